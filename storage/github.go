package storage

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/ruteri/wallet-key-backup/interfaces"
)

const defaultGitHubAPI = "https://api.github.com"

// GitHubDriver implements a cloud driver using the GitHub repository contents API.
// Each backup file is a file in a directory of a (private) repository; updates carry
// the current blob sha.
type GitHubDriver struct {
	owner       string
	repo        string
	dir         string
	branch      string
	token       string
	apiBase     string
	client      *http.Client
	log         *slog.Logger
	locationURI string
}

// GitHubContent represents a file entry returned by the contents API.
type GitHubContent struct {
	Type     string `json:"type"`
	Name     string `json:"name"`
	Path     string `json:"path"`
	SHA      string `json:"sha"`
	Size     int    `json:"size"`
	Content  string `json:"content,omitempty"`
	Encoding string `json:"encoding,omitempty"`
}

type githubPutRequest struct {
	Message string `json:"message"`
	Content string `json:"content"`
	SHA     string `json:"sha,omitempty"`
	Branch  string `json:"branch,omitempty"`
}

type githubPutResponse struct {
	Content GitHubContent `json:"content"`
}

// NewGitHubDriver creates a new GitHub driver. apiBase defaults to the public API.
func NewGitHubDriver(owner, repo, dir, branch, token, apiBase string, log *slog.Logger) *GitHubDriver {
	if apiBase == "" {
		apiBase = defaultGitHubAPI
	}
	return &GitHubDriver{
		owner:       owner,
		repo:        repo,
		dir:         strings.Trim(dir, "/"),
		branch:      branch,
		token:       token,
		apiBase:     strings.TrimSuffix(apiBase, "/"),
		client:      &http.Client{Timeout: 30 * time.Second},
		log:         log,
		locationURI: fmt.Sprintf("github://%s/%s/%s", owner, repo, strings.Trim(dir, "/")),
	}
}

// Locate fetches the file metadata from the contents API.
func (d *GitHubDriver) Locate(ctx context.Context, name string) (interfaces.FileHandle, bool, error) {
	content, err := d.getContent(ctx, d.filePath(name))
	if err == interfaces.ErrNotFound {
		return interfaces.FileHandle{}, false, nil
	}
	if err != nil {
		return interfaces.FileHandle{}, false, err
	}

	return interfaces.FileHandle{ID: content.Path, Name: name, Revision: content.SHA}, true, nil
}

// Create commits an empty file.
func (d *GitHubDriver) Create(ctx context.Context, name string) (interfaces.FileHandle, error) {
	handle := interfaces.FileHandle{ID: d.filePath(name), Name: name}
	sha, err := d.put(ctx, handle, nil)
	if err != nil {
		return interfaces.FileHandle{}, err
	}
	handle.Revision = sha
	return handle, nil
}

// Read returns the decoded file content.
func (d *GitHubDriver) Read(ctx context.Context, handle interfaces.FileHandle) ([]byte, error) {
	content, err := d.getContent(ctx, handle.ID)
	if err != nil {
		return nil, err
	}

	if content.Encoding != "base64" {
		return nil, fmt.Errorf("%w: unexpected content encoding: %s", interfaces.ErrIO, content.Encoding)
	}

	data, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(content.Content, "\n", ""))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode content: %v", interfaces.ErrIO, err)
	}

	d.log.Debug("Fetched file from GitHub",
		slog.String("path", handle.ID),
		slog.String("sha", content.SHA),
		slog.Int("size", len(data)))

	return data, nil
}

// Write commits data as the new file content. The handle's revision is refreshed
// first so a stale handle does not fail the update.
func (d *GitHubDriver) Write(ctx context.Context, handle interfaces.FileHandle, data []byte) error {
	current, err := d.getContent(ctx, handle.ID)
	switch {
	case err == interfaces.ErrNotFound:
		handle.Revision = ""
	case err != nil:
		return err
	default:
		handle.Revision = current.SHA
	}

	_, err = d.put(ctx, handle, data)
	return err
}

// List returns every file in the backup directory.
func (d *GitHubDriver) List(ctx context.Context) ([]interfaces.FileHandle, error) {
	body, err := d.get(ctx, d.dir)
	if err == interfaces.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var entries []GitHubContent
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("%w: failed to decode directory listing: %v", interfaces.ErrIO, err)
	}

	handles := make([]interfaces.FileHandle, 0, len(entries))
	for _, entry := range entries {
		if entry.Type != "file" {
			continue
		}
		handles = append(handles, interfaces.FileHandle{ID: entry.Path, Name: entry.Name, Revision: entry.SHA})
	}
	return handles, nil
}

// Name returns a unique identifier for this driver.
func (d *GitHubDriver) Name() string {
	return fmt.Sprintf("github-%s-%s", d.owner, d.repo)
}

// LocationURI returns the URI that identifies this driver.
func (d *GitHubDriver) LocationURI() string {
	return d.locationURI
}

func (d *GitHubDriver) filePath(name string) string {
	if d.dir == "" {
		return name
	}
	return path.Join(d.dir, name)
}

func (d *GitHubDriver) contentsURL(filePath string) string {
	url := fmt.Sprintf("%s/repos/%s/%s/contents/%s", d.apiBase, d.owner, d.repo, filePath)
	if d.branch != "" {
		url += "?ref=" + d.branch
	}
	return url
}

func (d *GitHubDriver) getContent(ctx context.Context, filePath string) (*GitHubContent, error) {
	body, err := d.get(ctx, filePath)
	if err != nil {
		return nil, err
	}

	var content GitHubContent
	if err := json.Unmarshal(body, &content); err != nil {
		return nil, fmt.Errorf("%w: failed to decode content: %v", interfaces.ErrIO, err)
	}
	return &content, nil
}

func (d *GitHubDriver) get(ctx context.Context, filePath string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.contentsURL(filePath), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %v", interfaces.ErrIO, err)
	}
	return d.do(req)
}

func (d *GitHubDriver) put(ctx context.Context, handle interfaces.FileHandle, data []byte) (string, error) {
	payload, err := json.Marshal(githubPutRequest{
		Message: fmt.Sprintf("update %s", handle.Name),
		Content: base64.StdEncoding.EncodeToString(data),
		SHA:     handle.Revision,
		Branch:  d.branch,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/repos/%s/%s/contents/%s", d.apiBase, d.owner, d.repo, handle.ID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("%w: failed to create request: %v", interfaces.ErrIO, err)
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := d.do(req)
	if err != nil {
		return "", err
	}

	var resp githubPutResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%w: failed to decode response: %v", interfaces.ErrIO, err)
	}

	d.log.Debug("Stored file in GitHub",
		slog.String("path", handle.ID),
		slog.String("sha", resp.Content.SHA),
		slog.Int("size", len(data)))

	return resp.Content.SHA, nil
}

func (d *GitHubDriver) do(req *http.Request) ([]byte, error) {
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to send request: %v", interfaces.ErrIO, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", interfaces.ErrIO, err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, interfaces.ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: GitHub API error: %s, %s", interfaces.ErrIO, resp.Status, string(body))
	}

	return body, nil
}
