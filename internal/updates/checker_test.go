package updates

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mantonx/vvf/internal/modules/pluginmodule"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGitHubRepo(t *testing.T) {
	owner, repo, ok := GitHubRepo("https://github.com/example/subs.git")
	require.True(t, ok)
	assert.Equal(t, "example", owner)
	assert.Equal(t, "subs", repo)

	_, _, ok = GitHubRepo("https://gitlab.com/example/subs")
	assert.False(t, ok)
	_, _, ok = GitHubRepo("https://github.com/example")
	assert.False(t, ok)
}

func TestCheckFindsNewerRelease(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repos/example/subs/releases/latest":
			fmt.Fprint(w, `{"tag_name": "v1.3.0", "html_url": "https://github.com/example/subs/releases/v1.3.0",
				"assets": [{"name": "notes.txt"}, {"name": "subs.vvf", "browser_download_url": "https://dl/subs.vvf"}]}`)
		case "/repos/example/current/releases/latest":
			fmt.Fprint(w, `{"tag_name": "1.0.0", "assets": [{"name": "c.vvf", "browser_download_url": "x"}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewChecker(srv.URL, srv.Client(), nil)
	metas := []*pluginmodule.ExtensionMetadata{
		{ID: "subs", Version: "1.2.0", UpdateURL: "https://github.com/example/subs"},
		{ID: "subs", Version: "1.2.0", UpdateURL: "https://github.com/example/subs"},
		{ID: "current", Version: "v1.0.0", RepoURL: "https://github.com/example/current"},
		{ID: "missing", Version: "1.0.0", UpdateURL: "https://github.com/example/missing"},
		{ID: "local", Version: "1.0.0"},
	}

	found := c.Check(context.Background(), metas)
	require.Len(t, found, 1)
	assert.Equal(t, "subs", found[0].ID)
	assert.Equal(t, "v1.3.0", found[0].Latest)
	assert.Equal(t, "https://dl/subs.vvf", found[0].DownloadURL)
	assert.Equal(t, found, c.Latest())
}

func TestScheduleRejectsBadSpec(t *testing.T) {
	c := NewChecker("", nil, nil)
	_, err := c.Schedule("sometimes", func(context.Context) []*pluginmodule.ExtensionMetadata { return nil })
	assert.Error(t, err)
}
