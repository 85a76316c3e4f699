// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package core

// Operation represents a backend storage operation, one of Create, Read, Update, Delete, List
type Operation string

// all supported resource operations
const (
	OperationCreate Operation = "create"
	OperationRead   Operation = "read"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
	OperationList   Operation = "list"
)

// EventName is the name of a real-time event pushed to connected clients
type EventName string

// the events synthesized for resource mutations
const (
	EventResourceCreated EventName = "resource_created"
	EventResourceUpdated EventName = "resource_updated"
	EventResourceDeleted EventName = "resource_deleted"
)

// EventForOperation returns the event name that announces a mutating operation.
// The second return value is false for non-mutating operations.
func EventForOperation(operation Operation) (EventName, bool) {
	switch operation {
	case OperationCreate:
		return EventResourceCreated, true
	case OperationUpdate:
		return EventResourceUpdated, true
	case OperationDelete:
		return EventResourceDeleted, true
	}
	return "", false
}

// Event is a real-time event. Name usually is one of the resource events, but
// notify transformations may rename it.
type Event struct {
	Name string      `json:"name"`
	Data interface{} `json:"data"`
}
