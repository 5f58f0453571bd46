// Package upload drives the figshare upload protocol for a single file:
// resolve the article, initiate the upload, fetch the part manifest, upload
// every part and complete the file.
package upload

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/bitrise-io/figshare-uploader/article"
	"github.com/bitrise-io/figshare-uploader/config"
	"github.com/bitrise-io/figshare-uploader/digest"
	"github.com/bitrise-io/figshare-uploader/figshare"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
)

// API is the part of the figshare client the orchestrator needs.
type API interface {
	article.API
	PartAPI
	ListFiles(ctx context.Context, articleID int64) ([]figshare.ArticleFile, error)
	InitiateUpload(ctx context.Context, articleID int64, file figshare.InitiateUploadRequest) (figshare.Location, error)
	GetFileSession(ctx context.Context, location string) (figshare.FileSession, error)
	GetManifest(ctx context.Context, uploadURL string) (figshare.Manifest, error)
	CompleteUpload(ctx context.Context, articleID, fileID int64) error
}

// Result is what a run achieved. On failure State is the last state reached.
type Result struct {
	State     State
	ArticleID int64
	FileID    int64
	Digest    digest.Result
	Parts     []PartResult
	// Files is the article's file listing after completion.
	Files []figshare.ArticleFile
}

// Orchestrator uploads the configured file into the configured article.
type Orchestrator struct {
	config   *config.Config
	api      API
	resolver *article.Resolver
	parts    *partUploader
	logger   log.Logger
}

// New creates an Orchestrator.
func New(cfg *config.Config, api API, logger log.Logger) *Orchestrator {
	return &Orchestrator{
		config:   cfg,
		api:      api,
		resolver: article.NewResolver(api, logger),
		parts:    newPartUploader(api, cfg.Concurrency, logger),
		logger:   logger,
	}
}

// Stats returns the part upload statistics of the last run.
func (o *Orchestrator) Stats() *Stats {
	return o.parts.stats
}

// Run executes the protocol once. Nothing is rolled back on failure: an
// article created before the failing step stays, and so does an incomplete
// upload session.
func (o *Orchestrator) Run(ctx context.Context) (Result, error) {
	res := Result{State: StateStart}
	path := o.config.FilePath
	o.parts.stats = NewStats()

	o.logger.TDebugf("Upload start")
	defer o.logger.TDebugf("Upload done")

	articleID, err := o.resolver.ResolveOrCreate(ctx, o.config.Title)
	if err != nil {
		return res, fmt.Errorf("resolve article: %w", err)
	}
	res.ArticleID = articleID
	res.State = StateArticleResolved
	o.logger.TDebugf("Article %d resolved", articleID)

	if _, err := o.listFiles(ctx, articleID); err != nil {
		return res, err
	}

	sum, err := digest.File(path)
	if err != nil {
		return res, fmt.Errorf("compute checksum: %w", err)
	}
	res.Digest = sum
	o.logger.Printf("File %s: %s", path, sum)

	session, err := o.initiate(ctx, articleID, path, sum)
	if err != nil {
		return res, err
	}
	res.FileID = session.ID
	res.State = StateUploadInitiated

	manifest, err := o.api.GetManifest(ctx, session.UploadURL)
	if err != nil {
		return res, fmt.Errorf("get parts manifest: %w", err)
	}
	if err := manifest.Validate(sum.Size); err != nil {
		return res, fmt.Errorf("check parts manifest: %w", err)
	}
	res.State = StatePartsManifestFetched
	o.logger.TDebugf("Manifest fetched, %d parts", len(manifest.Parts))

	o.logger.Println()
	o.logger.Infof("Uploading parts:")
	uploadStartTime := time.Now()
	parts, err := o.parts.Upload(ctx, path, session.UploadURL, manifest.Parts)
	if err != nil {
		return res, fmt.Errorf("upload parts: %w", err)
	}
	res.Parts = parts
	res.State = StateAllPartsUploaded
	stats := o.parts.stats
	o.logger.Donef("%d parts (%s) uploaded in %s, %s spent in part requests (avg %s)", len(parts),
		units.HumanSizeWithPrecision(float64(stats.Bytes()), 3), time.Since(uploadStartTime).Round(time.Millisecond),
		stats.TotalDuration().Round(time.Millisecond), stats.Average().Round(time.Millisecond))

	if err := o.api.CompleteUpload(ctx, articleID, session.ID); err != nil {
		return res, fmt.Errorf("complete upload: %w", err)
	}
	res.State = StateCompleted
	o.logger.Donef("Upload of file %d completed", session.ID)

	files, err := o.listFiles(ctx, articleID)
	if err != nil {
		return res, err
	}
	res.Files = files

	return res, nil
}

func (o *Orchestrator) initiate(ctx context.Context, articleID int64, path string, sum digest.Result) (figshare.FileSession, error) {
	loc, err := o.api.InitiateUpload(ctx, articleID, figshare.InitiateUploadRequest{
		Name: filepath.Base(path),
		MD5:  sum.MD5,
		Size: sum.Size,
	})
	if err != nil {
		return figshare.FileSession{}, fmt.Errorf("initiate upload: %w", err)
	}
	o.logger.Printf("Initiated file upload: %s", loc.Location)

	session, err := o.api.GetFileSession(ctx, loc.Location)
	if err != nil {
		return figshare.FileSession{}, fmt.Errorf("get upload session: %w", err)
	}

	if session.Size != 0 && session.Size != sum.Size {
		return figshare.FileSession{}, &figshare.IntegrityError{Reason: fmt.Sprintf("server expects %d bytes, local file has %d", session.Size, sum.Size)}
	}
	if session.MD5 != "" && session.MD5 != sum.MD5 {
		return figshare.FileSession{}, &figshare.IntegrityError{Reason: fmt.Sprintf("server expects md5 %s, local file has %s", session.MD5, sum.MD5)}
	}
	return session, nil
}

func (o *Orchestrator) listFiles(ctx context.Context, articleID int64) ([]figshare.ArticleFile, error) {
	files, err := o.api.ListFiles(ctx, articleID)
	if err != nil {
		return nil, fmt.Errorf("list files of article %d: %w", articleID, err)
	}

	o.logger.Printf("Listing files for article %d:", articleID)
	if len(files) == 0 {
		o.logger.Printf("  No files.")
	}
	for _, file := range files {
		o.logger.Printf("  %d - %s", file.ID, file.Name)
	}
	return files, nil
}
