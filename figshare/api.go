package figshare

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/bitrise-io/figshare-uploader/urltemplate"
)

const articlesPageSize = 100

// ListArticles returns every article of the account, in server order. Pages
// are requested until one comes back empty, or until a page starts with an
// article already seen, which means the server ignores the paging parameters.
func (c *Client) ListArticles(ctx context.Context) ([]Article, error) {
	var articles []Article
	seen := map[int64]bool{}
	for page := 1; ; page++ {
		var batch []Article
		endpoint := fmt.Sprintf("account/articles?page=%d&page_size=%d", page, articlesPageSize)
		if _, err := c.endpointRequest(ctx, http.MethodGet, endpoint, nil, &batch); err != nil {
			return nil, err
		}
		if len(batch) == 0 || seen[batch[0].ID] {
			return articles, nil
		}
		for _, article := range batch {
			if seen[article.ID] {
				continue
			}
			seen[article.ID] = true
			articles = append(articles, article)
		}
	}
}

// CreateArticle creates an article and returns where it can be fetched.
func (c *Client) CreateArticle(ctx context.Context, title string) (Location, error) {
	var loc Location
	resp, err := c.endpointRequest(ctx, http.MethodPost, "account/articles", createArticleRequest{Title: title}, &loc)
	if err != nil {
		return Location{}, err
	}
	if loc.Location == "" {
		return Location{}, resp.missingField("location")
	}
	return loc, nil
}

// GetArticle fetches the article a create call pointed at.
func (c *Client) GetArticle(ctx context.Context, location string) (Article, error) {
	var article Article
	resp, err := c.jsonRequest(ctx, http.MethodGet, location, nil, &article)
	if err != nil {
		return Article{}, err
	}
	if article.ID == 0 {
		return Article{}, resp.missingField("id")
	}
	return article, nil
}

// ListFiles returns the files of an article.
func (c *Client) ListFiles(ctx context.Context, articleID int64) ([]ArticleFile, error) {
	var files []ArticleFile
	if _, err := c.endpointRequest(ctx, http.MethodGet, fmt.Sprintf("account/articles/%d/files", articleID), nil, &files); err != nil {
		return nil, err
	}
	return files, nil
}

// InitiateUpload registers a new file on the article.
func (c *Client) InitiateUpload(ctx context.Context, articleID int64, file InitiateUploadRequest) (Location, error) {
	var loc Location
	resp, err := c.endpointRequest(ctx, http.MethodPost, fmt.Sprintf("account/articles/%d/files", articleID), file, &loc)
	if err != nil {
		return Location{}, err
	}
	if loc.Location == "" {
		return Location{}, resp.missingField("location")
	}
	return loc, nil
}

// GetFileSession fetches the file record an InitiateUpload call pointed at.
func (c *Client) GetFileSession(ctx context.Context, location string) (FileSession, error) {
	var session FileSession
	resp, err := c.jsonRequest(ctx, http.MethodGet, location, nil, &session)
	if err != nil {
		return FileSession{}, err
	}
	if session.ID == 0 {
		return FileSession{}, resp.missingField("id")
	}
	if session.UploadURL == "" {
		return FileSession{}, resp.missingField("upload_url")
	}
	return session, nil
}

// GetManifest fetches the part layout of an upload session.
func (c *Client) GetManifest(ctx context.Context, uploadURL string) (Manifest, error) {
	var manifest Manifest
	resp, err := c.jsonRequest(ctx, http.MethodGet, uploadURL, nil, &manifest)
	if err != nil {
		return Manifest{}, err
	}
	if manifest.Parts == nil {
		return Manifest{}, resp.missingField("parts")
	}
	return manifest, nil
}

// UploadPart sends the bytes of one part.
func (c *Client) UploadPart(ctx context.Context, uploadURL string, partNo int, data []byte) error {
	url, err := urltemplate.Join(uploadURL, strconv.Itoa(partNo))
	if err != nil {
		return fmt.Errorf("build part URL: %w", err)
	}
	_, err = c.RawIssueBinary(ctx, http.MethodPut, url, data)
	return err
}

// CompleteUpload tells the API that every part of the file was uploaded.
func (c *Client) CompleteUpload(ctx context.Context, articleID, fileID int64) error {
	_, err := c.endpointRequest(ctx, http.MethodPost, fmt.Sprintf("account/articles/%d/files/%d", articleID, fileID), nil, nil)
	return err
}
