// Package article finds the figshare article a file is uploaded to.
package article

import (
	"context"
	"fmt"

	"github.com/bitrise-io/figshare-uploader/figshare"
	"github.com/bitrise-io/go-utils/v2/log"
)

// API is the part of the figshare client the resolver needs.
type API interface {
	ListArticles(ctx context.Context) ([]figshare.Article, error)
	CreateArticle(ctx context.Context, title string) (figshare.Location, error)
	GetArticle(ctx context.Context, location string) (figshare.Article, error)
}

// Resolver maps a title to an article id, creating the article when needed.
type Resolver struct {
	api    API
	logger log.Logger
}

// NewResolver ...
func NewResolver(api API, logger log.Logger) *Resolver {
	return &Resolver{api: api, logger: logger}
}

// ResolveOrCreate returns the id of the first article titled exactly title,
// in the order the server lists them. If there is none, an article is created.
// With duplicate titles only the first one is ever used.
func (r *Resolver) ResolveOrCreate(ctx context.Context, title string) (int64, error) {
	articles, err := r.api.ListArticles(ctx)
	if err != nil {
		return 0, fmt.Errorf("list articles: %w", err)
	}
	r.logArticles(articles)

	if article, ok := find(articles, title); ok {
		r.logger.Infof("Title %s already exists (article %d), uploading into it", title, article.ID)
		return article.ID, nil
	}

	r.logger.Infof("No article found for %s, creating one", title)
	loc, err := r.api.CreateArticle(ctx, title)
	if err != nil {
		return 0, fmt.Errorf("create article: %w", err)
	}
	r.logger.Donef("Created article: %s", loc.Location)

	articles, err = r.api.ListArticles(ctx)
	if err != nil {
		return 0, fmt.Errorf("list articles: %w", err)
	}
	r.logArticles(articles)

	article, err := r.api.GetArticle(ctx, loc.Location)
	if err != nil {
		return 0, fmt.Errorf("get created article: %w", err)
	}
	return article.ID, nil
}

func find(articles []figshare.Article, title string) (figshare.Article, bool) {
	for _, article := range articles {
		if article.Title == title {
			return article, true
		}
	}
	return figshare.Article{}, false
}

func (r *Resolver) logArticles(articles []figshare.Article) {
	r.logger.Printf("Listing current articles:")
	if len(articles) == 0 {
		r.logger.Printf("  No articles.")
		return
	}
	for _, article := range articles {
		r.logger.Printf("  %s - %s", article.URL, article.Title)
	}
}
