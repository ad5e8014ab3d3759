package drive

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

// metaBatchSize caps how many tokens one metas/batch_query call may carry.
const metaBatchSize = 200

// RootFolderToken returns the token of the tenant's drive root folder.
func (c *Client) RootFolderToken(ctx context.Context) (string, error) {
	body, err := c.Do(ctx, "GET", "/open-apis/drive/explorer/v2/root_folder/meta", nil, nil)
	if err != nil {
		return "", err
	}

	var meta struct {
		Token string `json:"token"`
	}

	if err := decodeData(body, &meta); err != nil {
		return "", err
	}

	return meta.Token, nil
}

// ListFolder lists the direct children of a folder and enriches them with
// batched metadata (modify time, size backfill).
func (c *Client) ListFolder(ctx context.Context, folderToken string) ([]Entry, error) {
	query := url.Values{"folder_token": {folderToken}}

	body, err := c.Do(ctx, "GET", "/open-apis/drive/v1/files", query, nil)
	if err != nil {
		return nil, err
	}

	var data struct {
		Files []Entry `json:"files"`
	}

	if err := decodeData(body, &data); err != nil {
		return nil, err
	}

	c.enrichEntries(ctx, data.Files)

	return data.Files, nil
}

// enrichEntries backfills update times and sizes via metas/batch_query in
// chunks. Enrichment failures are logged and swallowed: a listing without
// modify times is still useful, and sync treats unknown times as equal.
func (c *Client) enrichEntries(ctx context.Context, entries []Entry) {
	type requestDoc struct {
		DocToken string `json:"doc_token"`
		DocType  string `json:"doc_type"`
	}

	type meta struct {
		DocToken         string  `json:"doc_token"`
		LatestModifyTime *string `json:"latest_modify_time"`
		CreateTime       *string `json:"create_time"`
		FileSize         *int64  `json:"file_size"`
		Size             *int64  `json:"size"`
	}

	for start := 0; start < len(entries); start += metaBatchSize {
		end := min(start+metaBatchSize, len(entries))
		chunk := entries[start:end]

		docs := make([]requestDoc, 0, len(chunk))
		for _, e := range chunk {
			docs = append(docs, requestDoc{DocToken: e.Token, DocType: e.Type})
		}

		body, err := c.Do(ctx, "POST", "/open-apis/drive/v1/metas/batch_query", nil, map[string]any{
			"request_docs": docs,
		})
		if err != nil {
			c.logger.Warn("meta enrichment failed", slog.String("error", err.Error()))

			continue
		}

		var data struct {
			Metas []meta `json:"metas"`
		}

		if err := decodeData(body, &data); err != nil {
			c.logger.Warn("meta enrichment parse failed", slog.String("error", err.Error()))

			continue
		}

		byToken := make(map[string]meta, len(data.Metas))
		for _, m := range data.Metas {
			byToken[m.DocToken] = m
		}

		for i := range chunk {
			m, ok := byToken[chunk[i].Token]
			if !ok {
				continue
			}

			switch {
			case m.LatestModifyTime != nil && *m.LatestModifyTime != "":
				chunk[i].UpdateTime = m.LatestModifyTime
			case m.CreateTime != nil && *m.CreateTime != "":
				chunk[i].UpdateTime = m.CreateTime
			}

			if chunk[i].Size == nil {
				if m.FileSize != nil {
					chunk[i].Size = m.FileSize
				} else if m.Size != nil {
					chunk[i].Size = m.Size
				}
			}
		}
	}
}

// CreateFolder creates a folder under parentToken and returns its token.
func (c *Client) CreateFolder(ctx context.Context, name, parentToken string) (string, error) {
	body, err := c.Do(ctx, "POST", "/open-apis/drive/v1/files/create_folder", nil, map[string]string{
		"name":         name,
		"folder_token": parentToken,
	})
	if err != nil {
		return "", err
	}

	var data struct {
		Token string `json:"token"`
	}

	if err := decodeData(body, &data); err != nil {
		return "", err
	}

	return data.Token, nil
}

// DeleteFile removes a file or folder by token.
func (c *Client) DeleteFile(ctx context.Context, token, fileType string) error {
	query := url.Values{"type": {fileType}}

	body, err := c.Do(ctx, "DELETE", "/open-apis/drive/v1/files/"+token, query, nil)
	if err != nil {
		return err
	}

	return decodeData(body, nil)
}

// Move relocates a file into another folder within the same tenant.
// Large moves are asynchronous server-side; the returned task id (possibly
// empty) identifies the server's background job.
func (c *Client) Move(ctx context.Context, token, fileType, targetParent string) (string, error) {
	body, err := c.Do(ctx, "POST", fmt.Sprintf("/open-apis/drive/v1/files/%s/move", token), nil, map[string]string{
		"type":         fileType,
		"folder_token": targetParent,
	})
	if err != nil {
		return "", err
	}

	var data struct {
		TaskID string `json:"task_id"`
	}

	if err := decodeData(body, &data); err != nil {
		return "", err
	}

	return data.TaskID, nil
}

// Copy duplicates a file into another folder and returns the new file.
func (c *Client) Copy(ctx context.Context, token, name, fileType, targetParent string) (FileMeta, error) {
	body, err := c.Do(ctx, "POST", fmt.Sprintf("/open-apis/drive/v1/files/%s/copy", token), nil, map[string]string{
		"name":         name,
		"type":         fileType,
		"folder_token": targetParent,
	})
	if err != nil {
		return FileMeta{}, err
	}

	var data struct {
		File FileMeta `json:"file"`
	}

	if err := decodeData(body, &data); err != nil {
		return FileMeta{}, err
	}

	return data.File, nil
}

// Rename changes a node's display name. Folders and files live under
// different explorer endpoints, and only files carry a type field.
func (c *Client) Rename(ctx context.Context, token, fileType, newName string) error {
	var path string

	payload := map[string]string{"name": newName}

	if strings.EqualFold(fileType, "folder") {
		path = "/open-apis/drive/explorer/v2/folder/" + token
	} else {
		path = "/open-apis/drive/explorer/v2/file/" + token
		payload["type"] = fileType
	}

	body, err := c.Do(ctx, "PATCH", path, nil, payload)
	if err != nil {
		return err
	}

	return decodeData(body, nil)
}

// Search walks the folder tree breadth-first from rootToken and returns
// entries whose name contains keyword (case-insensitive). Each hit carries
// a breadcrumb path label. A visited set guards against listing cycles.
func (c *Client) Search(ctx context.Context, rootToken, rootName, keyword string) ([]SearchHit, error) {
	if rootName == "" {
		rootName = "Root"
	}

	needle := strings.ToLower(keyword)

	type queueItem struct {
		token string
		path  string
	}

	queue := []queueItem{{token: rootToken, path: rootName}}
	visited := map[string]bool{rootToken: true}

	var hits []SearchHit

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		entries, err := c.ListFolder(ctx, item.token)
		if err != nil {
			return nil, err
		}

		for _, entry := range entries {
			if strings.Contains(strings.ToLower(entry.Name), needle) {
				hits = append(hits, SearchHit{
					Entry: entry,
					Path:  item.path + " / " + entry.Name,
				})
			}

			if entry.IsFolder() && !visited[entry.Token] {
				visited[entry.Token] = true

				queue = append(queue, queueItem{
					token: entry.Token,
					path:  item.path + " / " + entry.Name,
				})
			}
		}
	}

	return hits, nil
}
