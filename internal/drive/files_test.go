package drive

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListFolder_Enrichment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/open-apis/drive/v1/files":
			assert.Equal(t, "folder-1", r.URL.Query().Get("folder_token"))
			_, _ = w.Write([]byte(`{"code":0,"data":{"files":[
				{"token":"f1","name":"a.txt","type":"file"},
				{"token":"d1","name":"docs","type":"folder"}
			]}}`))
		case "/open-apis/drive/v1/metas/batch_query":
			var req struct {
				RequestDocs []struct {
					DocToken string `json:"doc_token"`
					DocType  string `json:"doc_type"`
				} `json:"request_docs"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Len(t, req.RequestDocs, 2)
			_, _ = w.Write([]byte(`{"code":0,"data":{"metas":[
				{"doc_token":"f1","latest_modify_time":"2026-08-01T10:00:00Z","file_size":42}
			]}}`))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	entries, err := client.ListFolder(context.Background(), "folder-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	require.NotNil(t, entries[0].UpdateTime)
	assert.Equal(t, "2026-08-01T10:00:00Z", *entries[0].UpdateTime)
	require.NotNil(t, entries[0].Size)
	assert.Equal(t, int64(42), *entries[0].Size)

	assert.True(t, entries[1].IsFolder())
	assert.Nil(t, entries[1].UpdateTime)
}

func TestListFolder_EnrichmentFailureTolerated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/open-apis/drive/v1/files":
			_, _ = w.Write([]byte(`{"code":0,"data":{"files":[{"token":"f1","name":"a","type":"file"}]}}`))
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	entries, err := client.ListFolder(context.Background(), "x")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSearch_BFSWithPaths(t *testing.T) {
	listings := map[string]string{
		"root": `{"code":0,"data":{"files":[
			{"token":"d1","name":"Projects","type":"folder"},
			{"token":"f0","name":"readme.txt","type":"file"}
		]}}`,
		"d1": `{"code":0,"data":{"files":[
			{"token":"f1","name":"Report.pdf","type":"file"}
		]}}`,
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/open-apis/drive/v1/files":
			_, _ = w.Write([]byte(listings[r.URL.Query().Get("folder_token")]))
		case "/open-apis/drive/v1/metas/batch_query":
			_, _ = w.Write([]byte(`{"code":0,"data":{"metas":[]}}`))
		}
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	hits, err := client.Search(context.Background(), "root", "Root", "report")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "f1", hits[0].Token)
	assert.Equal(t, "Root / Projects / Report.pdf", hits[0].Path)
}

func TestRename_FolderVsFile(t *testing.T) {
	var paths []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		if r.URL.Path == "/open-apis/drive/explorer/v2/folder/d1" {
			assert.NotContains(t, body, "type")
		} else {
			assert.Equal(t, "file", body["type"])
		}

		_, _ = w.Write([]byte(`{"code":0,"data":{}}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	require.NoError(t, client.Rename(context.Background(), "d1", "folder", "new"))
	require.NoError(t, client.Rename(context.Background(), "f1", "file", "new"))
	assert.Equal(t, []string{
		"/open-apis/drive/explorer/v2/folder/d1",
		"/open-apis/drive/explorer/v2/file/f1",
	}, paths)
}

func TestFetchTenantToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, tokenPath, r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "app-1", body["app_id"])
		assert.Equal(t, "s3cret", body["app_secret"])

		_, _ = w.Write([]byte(`{"code":0,"tenant_access_token":"t-abc","expire":7200}`))
	}))
	defer srv.Close()

	tok, err := FetchTenantToken(context.Background(), http.DefaultClient, srv.URL, "app-1", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "t-abc", tok.Value)
	assert.False(t, tok.ExpireAt.IsZero())
}

func TestFetchTenantToken_CodeFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"code":10003,"msg":""}`))
	}))
	defer srv.Close()

	_, err := FetchTenantToken(context.Background(), http.DefaultClient, srv.URL, "a", "b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "获取 token 失败")
}
