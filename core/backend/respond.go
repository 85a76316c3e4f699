// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/dummyapi/core"
	"github.com/relabs-tech/dummyapi/core/logger"
	"github.com/relabs-tech/dummyapi/core/schema"
	"github.com/relabs-tech/dummyapi/core/store"
)

// maxBodySize limits the size of request bodies
const maxBodySize = 4 << 20

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	jsonData, err := json.MarshalWithOption(v, json.DisableHTMLEscape())
	if err != nil {
		logger.Default().WithError(err).Errorln("Error 4001: marshal response")
		http.Error(w, "Error 4001", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(jsonData)
}

// writeError answers with the status of err. Internal errors are logged with
// the handler's error number and never exposed to the client.
func writeError(w http.ResponseWriter, r *http.Request, number string, err error) {
	status := core.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		logger.FromContext(r.Context()).WithError(err).Errorf("Error %s: %s %s", number, r.Method, r.URL.Path)
		http.Error(w, "Error "+number, status)
		return
	}
	logger.FromContext(r.Context()).WithError(err).Debugln("request failed")
	http.Error(w, errorMessage(err), status)
}

func errorMessage(err error) string {
	var e *core.Error
	if errors.As(err, &e) && e.Msg != "" {
		var verr *schema.ValidationError
		if errors.As(e.Err, &verr) {
			return e.Msg + ": " + verr.Error()
		}
		return e.Msg
	}
	return err.Error()
}

func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return nil, core.Errorf(core.EInvalid, "backend.readBody", "cannot read body: %v", err)
	}
	return body, nil
}

// readDocument reads a JSON object from the request body
func readDocument(r *http.Request) (store.Document, error) {
	body, err := readBody(r)
	if err != nil {
		return nil, err
	}
	var doc store.Document
	if err = json.Unmarshal(body, &doc); err != nil || doc == nil {
		return nil, core.Errorf(core.EInvalid, "backend.readDocument", "body must be a JSON object")
	}
	return doc, nil
}

// readValidated reads the request body, validates it against schemaID and
// unmarshals it into v
func (b *Backend) readValidated(r *http.Request, schemaID string, v interface{}) error {
	body, err := readBody(r)
	if err != nil {
		return err
	}
	if err = b.validator.Validate(body, schemaID); err != nil {
		return err
	}
	if err = json.Unmarshal(body, v); err != nil {
		return core.Errorf(core.EInvalid, "backend.readValidated", "%v", err)
	}
	return nil
}

func bytesToEtag(b []byte) string {
	sum := sha1.Sum(b)
	return "\"" + hex.EncodeToString(sum[:]) + "\""
}

func ifNoneMatchFound(ifNoneMatch, etag string) bool {
	ifNoneMatch = strings.Trim(ifNoneMatch, " ")
	if len(ifNoneMatch) == 0 {
		return false
	}
	if ifNoneMatch == "*" {
		return true
	}
	t := strings.Trim(etag, " \"")
	for _, s := range strings.Split(ifNoneMatch, ",") {
		if strings.Trim(s, " \"") == t {
			return true
		}
	}
	return false
}
