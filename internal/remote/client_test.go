package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"aidoc/editor/internal/section"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tokenFunc func(ctx context.Context) (string, error)

func (f tokenFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

type recorded struct {
	Method string
	Path   string
	Query  string
	Auth   string
	Body   map[string]any
}

func newTestServer(t *testing.T, status int, response string) (*httptest.Server, *[]recorded) {
	t.Helper()
	var calls []recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recorded{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery, Auth: r.Header.Get("Authorization")}
		raw, _ := io.ReadAll(r.Body)
		if len(raw) > 0 {
			_ = json.Unmarshal(raw, &rec.Body)
		}
		calls = append(calls, rec)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func staticToken(token string) Credentials {
	return tokenFunc(func(context.Context) (string, error) { return token, nil })
}

func TestFetchProjectReadsContentsField(t *testing.T) {
	srv, calls := newTestServer(t, http.StatusOK, `{
		"id": 12, "title": "Report", "doc_type": "docx",
		"contents": [
			{"id": 3, "project_id": 12, "title": "B", "section_order": 1, "content_text": null, "feedback": null, "user_notes": null, "metadata_props": {}},
			{"id": 2, "project_id": 12, "title": "A", "section_order": 0, "content_text": "hello", "feedback": "like", "user_notes": "n"}
		]
	}`)
	client := NewClient(srv.URL+"/", staticToken("tok"))

	project, err := client.FetchProject(context.Background(), 12)
	require.NoError(t, err)
	assert.Equal(t, int64(12), project.ID)
	assert.Equal(t, section.DocTypeDocx, project.DocType)
	require.Len(t, project.Sections, 2)
	assert.Equal(t, "hello", project.Sections[1].Content())
	assert.Equal(t, section.FeedbackLike, project.Sections[1].Feedback)

	require.Len(t, *calls, 1)
	assert.Equal(t, "/projects/12", (*calls)[0].Path)
	assert.Equal(t, "Bearer tok", (*calls)[0].Auth)
}

func TestFetchProjectPrefersSectionsField(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusOK, `{"id": 1, "title": "Deck", "doc_type": "pptx", "sections": [{"id": 9, "title": "S"}]}`)
	project, err := NewClient(srv.URL, nil).FetchProject(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, project.Sections, 1)
	assert.Equal(t, int64(9), project.Sections[0].ID)
}

func TestFetchProjectRejectsUnknownDocType(t *testing.T) {
	for _, body := range []string{
		`{"id": 1, "title": "Sheet", "doc_type": "xlsx", "sections": []}`,
		`{"id": 1, "title": "Untyped", "sections": []}`,
	} {
		srv, _ := newTestServer(t, http.StatusOK, body)
		_, err := NewClient(srv.URL, nil).FetchProject(context.Background(), 1)
		require.Error(t, err, body)
		assert.ErrorIs(t, err, ErrTransport)
	}
}

func TestRequestShapes(t *testing.T) {
	ctx := context.Background()
	sectionJSON := `{"id": 4, "title": "T", "section_order": 0, "content_text": "x", "feedback": null, "user_notes": null}`

	cases := []struct {
		name   string
		call   func(c *Client) error
		method string
		path   string
		query  string
		body   map[string]any
	}{
		{
			name: "create",
			call: func(c *Client) error {
				_, err := c.CreateSection(ctx, 7, CreateRequest{SectionOrder: 3, Title: "Intro"})
				return err
			},
			method: http.MethodPost, path: "/projects/7/content",
			body: map[string]any{"section_order": float64(3), "title": "Intro", "content_text": ""},
		},
		{
			name:   "delete",
			call:   func(c *Client) error { return c.DeleteSection(ctx, 7, 4) },
			method: http.MethodDelete, path: "/projects/7/content/4",
		},
		{
			name: "feedback",
			call: func(c *Client) error {
				_, err := c.SetFeedback(ctx, 7, 4, section.FeedbackDislike)
				return err
			},
			method: http.MethodPut, path: "/projects/7/content/4/feedback",
			body: map[string]any{"feedback": "dislike"},
		},
		{
			name: "clear feedback",
			call: func(c *Client) error {
				_, err := c.SetFeedback(ctx, 7, 4, section.FeedbackNone)
				return err
			},
			method: http.MethodPut, path: "/projects/7/content/4/feedback",
			body: map[string]any{"feedback": nil},
		},
		{
			name: "notes",
			call: func(c *Client) error {
				_, err := c.SetNotes(ctx, 7, 4, "remember")
				return err
			},
			method: http.MethodPut, path: "/projects/7/content/4/notes",
			body: map[string]any{"notes": "remember"},
		},
		{
			name: "generate",
			call: func(c *Client) error {
				_, err := c.Generate(ctx, 7, 4)
				return err
			},
			method: http.MethodPost, path: "/generate/content", query: "content_id=4&project_id=7",
		},
		{
			name: "refine",
			call: func(c *Client) error {
				_, err := c.Refine(ctx, 4, "shorter")
				return err
			},
			method: http.MethodPost, path: "/generate/refine",
			body: map[string]any{"content_id": float64(4), "prompt": "shorter"},
		},
		{
			name:   "persist order",
			call:   func(c *Client) error { return c.PersistOrder(ctx, 7, []int64{3, 1, 2}) },
			method: http.MethodPut, path: "/projects/7/reorder",
			body: map[string]any{"ordered_content_ids": []any{float64(3), float64(1), float64(2)}},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv, calls := newTestServer(t, http.StatusOK, sectionJSON)
			require.NoError(t, tc.call(NewClient(srv.URL, nil)))
			require.Len(t, *calls, 1)
			got := (*calls)[0]
			assert.Equal(t, tc.method, got.Method)
			assert.Equal(t, tc.path, got.Path)
			assert.Equal(t, tc.query, got.Query)
			assert.Equal(t, tc.body, got.Body)
			assert.Empty(t, got.Auth)
		})
	}
}

func TestSectionCallAcceptsBareAck(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusOK, `{"ok": true}`)
	got, err := NewClient(srv.URL, nil).SetNotes(context.Background(), 1, 2, "n")
	require.NoError(t, err)
	assert.Zero(t, got.ID)
}

func TestNon2xxBecomesTransportError(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusInternalServerError, `{"detail": "AI Generation failed: quota"}`)
	_, err := NewClient(srv.URL, nil).Generate(context.Background(), 1, 2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransport))

	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, http.StatusInternalServerError, te.Status)
	assert.Equal(t, "AI Generation failed: quota", te.Message)
	assert.True(t, te.Temporary())
}

func TestNetworkFailureHasNoStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	err := NewClient(url, nil).DeleteSection(context.Background(), 1, 2)
	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Zero(t, te.Status)
	assert.NotNil(t, te.Err)
}

func TestCredentialFailureStopsRequest(t *testing.T) {
	srv, calls := newTestServer(t, http.StatusOK, `{}`)
	creds := tokenFunc(func(context.Context) (string, error) { return "", errors.New("no session") })

	_, err := NewClient(srv.URL, creds).FetchProject(context.Background(), 1)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrTransport))
	assert.Empty(t, *calls)
}

type cachedToken struct {
	invalidated int
}

func (c *cachedToken) Token(context.Context) (string, error) { return "expired", nil }

func (c *cachedToken) Invalidate() { c.invalidated++ }

func TestUnauthorizedDropsCachedToken(t *testing.T) {
	srv, _ := newTestServer(t, http.StatusUnauthorized, `{"detail": "Could not validate credentials"}`)
	creds := &cachedToken{}

	err := NewClient(srv.URL, creds).PersistOrder(context.Background(), 1, []int64{2, 1})
	require.Error(t, err)
	assert.Equal(t, 1, creds.invalidated)

	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, http.StatusUnauthorized, te.Status)
}
