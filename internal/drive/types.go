package drive

import (
	"encoding/json"
	"fmt"
)

// envelope is the uniform response wrapper used by every JSON endpoint.
// A non-zero Code is a failure even when the HTTP status is 200.
type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// decodeData unwraps the {code, msg, data} envelope and unmarshals data
// into v. Passing a nil v skips the data field entirely (for endpoints
// whose data is irrelevant).
func decodeData(body []byte, v any) error {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("drive: parsing response: %w", err)
	}

	if env.Code != 0 {
		return &APIError{Code: env.Code, Message: env.Msg, Err: ErrAPICode}
	}

	if v == nil {
		return nil
	}

	if len(env.Data) == 0 || string(env.Data) == "null" {
		return ErrMissingData
	}

	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("drive: parsing response data: %w", err)
	}

	return nil
}

// Entry is one file or folder as reported by a listing, normalized with
// batch-meta enrichment (update time and size backfill).
type Entry struct {
	Token       string  `json:"token"`
	Name        string  `json:"name"`
	Type        string  `json:"type"`
	Size        *int64  `json:"size,omitempty"`
	ParentToken string  `json:"parent_token,omitempty"`
	UpdateTime  *string `json:"update_time,omitempty"`
}

// IsFolder reports whether the entry is a folder.
func (e Entry) IsFolder() bool {
	return e.Type == "folder"
}

// FileMeta describes one file as returned by the copy endpoint.
type FileMeta struct {
	Token string `json:"token"`
	Name  string `json:"name"`
	Type  string `json:"type"`
}

// PrepareResult is the server's response to an upload_prepare call.
type PrepareResult struct {
	UploadID  string `json:"upload_id"`
	BlockSize int64  `json:"block_size"`
	BlockNum  int    `json:"block_num"`
}

// SearchHit is one match from a drive-wide search, carrying a breadcrumb
// path label rooted at the tenant's root folder name.
type SearchHit struct {
	Entry
	Path string `json:"path"`
}
