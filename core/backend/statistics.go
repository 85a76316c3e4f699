// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"net/http"
	"sort"

	"github.com/goccy/go-json"
)

// ObjectTypeStatistics represents information about the instances of one object type
type ObjectTypeStatistics struct {
	ObjectType   string  `json:"object_type"`
	Count        int64   `json:"count"`
	SizeMB       float64 `json:"size_mb"`
	AverageSizeB float64 `json:"average_size_b"`
}

// StatisticsDetails represents information about the resources of an application
type StatisticsDetails struct {
	AppID       int64                  `json:"app_id"`
	ObjectTypes []ObjectTypeStatistics `json:"object_types"`
	Users       int                    `json:"users"`
	UserGroups  int                    `json:"user_groups"`
}

// statistics reports the number and the JSON size of the instances of every
// object type. The response carries an ETag.
func (b *Backend) statistics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := appID(r)
	if err != nil {
		writeError(w, r, "4480", err)
		return
	}
	types, err := b.types.ListTypes(ctx, id)
	if err != nil {
		writeError(w, r, "4481", err)
		return
	}
	// sort the types so that the ETag does not depend on declaration order
	names := sort.StringSlice{}
	for _, ot := range types {
		names = append(names, ot.Name)
	}
	names.Sort()

	s := StatisticsDetails{AppID: id, ObjectTypes: []ObjectTypeStatistics{}}
	for _, name := range names {
		docs, err := b.engine.Get(ctx, id, name, nil)
		if err != nil {
			writeError(w, r, "4482", err)
			return
		}
		var size int64
		for _, doc := range docs {
			data, _ := json.Marshal(doc)
			size += int64(len(data))
		}
		var averageSize float64
		if len(docs) != 0 {
			averageSize = float64(size / int64(len(docs)))
		}
		s.ObjectTypes = append(s.ObjectTypes, ObjectTypeStatistics{
			ObjectType:   name,
			Count:        int64(len(docs)),
			SizeMB:       float64(size) / 1024. / 1024.,
			AverageSizeB: averageSize,
		})
	}
	users, err := b.tenants.ListUsers(ctx, id)
	if err != nil {
		writeError(w, r, "4483", err)
		return
	}
	groups, err := b.tenants.ListGroups(ctx, id)
	if err != nil {
		writeError(w, r, "4484", err)
		return
	}
	s.Users, s.UserGroups = len(users), len(groups)

	jsonData, _ := json.Marshal(s)
	etag := bytesToEtag(jsonData)
	w.Header().Set("Etag", etag)
	if ifNoneMatchFound(r.Header.Get("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Write(jsonData)
}
