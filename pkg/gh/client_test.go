/*
Copyright 2025 Infra Bits
SPDX-License-Identifier: MIT
*/

package gh

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-github/v75/github"
)

// newTestClient returns a GitHub client for owner/repo backed by an
// httptest server serving mux.
func newTestClient(t *testing.T, mux *http.ServeMux) (*GitHub, *httptest.Server) {
	t.Helper()

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	baseURL, err := url.Parse(ts.URL + "/")
	if err != nil {
		t.Fatalf("parsing test server URL: %v", err)
	}
	inner := github.NewClient(nil)
	inner.BaseURL = baseURL

	client, err := New(context.Background(), "infra-bits", "widgets", nil, WithClient(inner))
	if err != nil {
		t.Fatalf("New() = %v", err)
	}
	return client, ts
}

func TestParseRepository(t *testing.T) {
	tests := []struct {
		in        string
		wantOwner string
		wantRepo  string
		wantErr   bool
	}{
		{in: "infra-bits/widgets", wantOwner: "infra-bits", wantRepo: "widgets"},
		{in: "widgets", wantErr: true},
		{in: "a/b/c", wantErr: true},
		{in: "/widgets", wantErr: true},
		{in: "infra-bits/", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			owner, repo, err := ParseRepository(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseRepository(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if owner != tt.wantOwner || repo != tt.wantRepo {
				t.Errorf("ParseRepository(%q) = %q/%q, want %q/%q", tt.in, owner, repo, tt.wantOwner, tt.wantRepo)
			}
		})
	}
}

func TestDefaultBranchHead(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/infra-bits/widgets", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"default_branch": "main"}`)
	})
	mux.HandleFunc("GET /repos/infra-bits/widgets/git/ref/heads/main", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"ref": "refs/heads/main", "object": {"sha": "abc123"}}`)
	})

	client, _ := newTestClient(t, mux)

	head, err := client.DefaultBranchHead(context.Background())
	if err != nil {
		t.Fatalf("DefaultBranchHead() = %v", err)
	}

	want := &Ref{Name: "refs/heads/main", SHA: "abc123"}
	if diff := cmp.Diff(want, head); diff != "" {
		t.Errorf("DefaultBranchHead() mismatch (-want +got):\n%s", diff)
	}
}

func TestRemoteErrorCarriesStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/infra-bits/widgets", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message": "Not Found"}`)
	})

	client, _ := newTestClient(t, mux)

	_, err := client.DefaultBranchHead(context.Background())
	if err == nil {
		t.Fatal("DefaultBranchHead() = nil, want error")
	}

	var re *RemoteError
	if !errors.As(err, &re) {
		t.Fatalf("error %v is not a *RemoteError", err)
	}
	if re.StatusCode != http.StatusNotFound {
		t.Errorf("StatusCode = %d, want %d", re.StatusCode, http.StatusNotFound)
	}
	if re.Message != "Not Found" {
		t.Errorf("Message = %q, want %q", re.Message, "Not Found")
	}
}

func TestTransportErrorOnConnectionFailure(t *testing.T) {
	mux := http.NewServeMux()
	client, ts := newTestClient(t, mux)
	ts.Close()

	_, err := client.DefaultBranchHead(context.Background())
	if err == nil {
		t.Fatal("DefaultBranchHead() = nil, want error")
	}

	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("error %v is not a *TransportError", err)
	}
}

func TestCreateCommitBuildsTreeAndCommit(t *testing.T) {
	var gotTree struct {
		BaseTree string `json:"base_tree"`
		Tree     []struct {
			Path    string `json:"path"`
			Mode    string `json:"mode"`
			Content string `json:"content"`
		} `json:"tree"`
	}
	var gotCommit struct {
		Message string `json:"message"`
		Parents []struct {
			SHA string `json:"sha"`
		} `json:"parents"`
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/infra-bits/widgets/git/commits/parent1", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"sha": "parent1", "tree": {"sha": "tree0"}}`)
	})
	mux.HandleFunc("POST /repos/infra-bits/widgets/git/trees", func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotTree); err != nil {
			t.Errorf("decoding tree request: %v", err)
		}
		fmt.Fprint(w, `{"sha": "tree1"}`)
	})
	mux.HandleFunc("POST /repos/infra-bits/widgets/git/commits", func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotCommit); err != nil {
			t.Errorf("decoding commit request: %v", err)
		}
		fmt.Fprint(w, `{"sha": "commit1"}`)
	})

	client, _ := newTestClient(t, mux)

	sha, err := client.CreateCommit(context.Background(), "parent1", map[string]string{
		"package.json": `{"dependencies": {}}`,
	}, "npmup (1 updates)\n\n`left-pad`: `2.0.0`")
	if err != nil {
		t.Fatalf("CreateCommit() = %v", err)
	}
	if sha != "commit1" {
		t.Errorf("CreateCommit() sha = %q, want commit1", sha)
	}

	if gotTree.BaseTree != "tree0" {
		t.Errorf("tree base = %q, want tree0", gotTree.BaseTree)
	}
	if len(gotTree.Tree) != 1 || gotTree.Tree[0].Path != "package.json" || gotTree.Tree[0].Mode != "100644" {
		t.Errorf("unexpected tree entries: %+v", gotTree.Tree)
	}
	if len(gotCommit.Parents) != 1 || gotCommit.Parents[0].SHA != "parent1" {
		t.Errorf("unexpected commit parents: %+v", gotCommit.Parents)
	}
	if gotCommit.Message == "" {
		t.Error("commit message not sent")
	}
}

func TestListCheckRuns(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/infra-bits/widgets/commits/abc123/check-runs", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{
			"total_count": 2,
			"check_runs": [
				{"name": "ci", "status": "completed", "conclusion": "success"},
				{"name": "lint", "status": "in_progress"}
			]
		}`)
	})

	client, _ := newTestClient(t, mux)

	runs, err := client.ListCheckRuns(context.Background(), "abc123")
	if err != nil {
		t.Fatalf("ListCheckRuns() = %v", err)
	}

	want := []CheckRun{
		{Name: "ci", Status: "completed", Conclusion: "success"},
		{Name: "lint", Status: "in_progress"},
	}
	if diff := cmp.Diff(want, runs); diff != "" {
		t.Errorf("ListCheckRuns() mismatch (-want +got):\n%s", diff)
	}
}

func TestCreatePullRequest(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /repos/infra-bits/widgets/pulls", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Title string `json:"title"`
			Head  string `json:"head"`
			Base  string `json:"base"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding pull request: %v", err)
		}
		if req.Head != "npmup-test" || req.Base != "main" {
			t.Errorf("unexpected head/base: %q/%q", req.Head, req.Base)
		}
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"number": 42}`)
	})

	client, _ := newTestClient(t, mux)

	number, err := client.CreatePullRequest(context.Background(), "npmup-test", "main", "npmup (1 updates)", "`left-pad`: `2.0.0`")
	if err != nil {
		t.Fatalf("CreatePullRequest() = %v", err)
	}
	if number != 42 {
		t.Errorf("CreatePullRequest() = %d, want 42", number)
	}
}

func TestNewRequiresOwnerAndRepo(t *testing.T) {
	if _, err := New(context.Background(), "", "widgets", nil); err == nil {
		t.Error("New() with empty owner succeeded, want error")
	}
	if _, err := New(context.Background(), "infra-bits", "", nil); err == nil {
		t.Error("New() with empty repo succeeded, want error")
	}
}
