package app

import (
	"context"
	"path/filepath"
	"time"

	"candlevault/internal/ingest/news"
	"candlevault/internal/ingest/social"
	"candlevault/internal/logger"
	"candlevault/internal/store/gormstore"
)

// RunNews pulls the recent news window, persists new posts and writes the
// CSV export.
func (a *App) RunNews(ctx context.Context) error {
	nc := a.cfg.News
	client, err := news.New(news.Config{
		APIKey:     nc.APIKey,
		Currencies: nc.Currencies,
		Kind:       nc.Kind,
		MaxPages:   nc.MaxPages,
	})
	if err != nil {
		return err
	}
	posts, err := client.Fetch(ctx, time.Duration(nc.Hours)*time.Hour)
	if err != nil {
		return err
	}
	if len(posts) == 0 {
		logger.Warnf("[news] nothing fetched, skipping export")
		return nil
	}

	db, err := gormstore.New(a.cfg.Stream.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()
	rows, err := news.ToRows(posts)
	if err != nil {
		return err
	}
	inserted, err := db.SaveNewsPosts(ctx, rows)
	if err != nil {
		return err
	}
	logger.Infof("[news] %d posts fetched, %d new", len(posts), inserted)

	path := filepath.Join(a.cfg.Store.DataDir, news.CSVFilename(nc.Currencies, nc.Kind, time.Now()))
	if err := news.WriteCSV(path, posts); err != nil {
		return err
	}
	logger.Infof("[news] export written to %s", path)
	return nil
}

// RunTweets searches the recent tweet window, persists new tweets and
// writes the CSV export.
func (a *App) RunTweets(ctx context.Context) error {
	sc := a.cfg.Social
	client, err := social.New(social.Config{
		BearerToken: sc.BearerToken,
		Query:       sc.Query,
		Lang:        sc.Lang,
		MaxTweets:   sc.MaxTweets,
		MaxRetries:  sc.MaxRetries,
		RetryDelay:  time.Duration(sc.RetryDelayS) * time.Second,
	})
	if err != nil {
		return err
	}
	tweets, err := client.Search(ctx, time.Duration(sc.Hours)*time.Hour)
	if err != nil {
		return err
	}
	if len(tweets) == 0 {
		logger.Warnf("[tweets] nothing fetched, skipping export")
		return nil
	}

	db, err := gormstore.New(a.cfg.Stream.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()
	inserted, err := db.SaveTweets(ctx, social.ToRows(tweets))
	if err != nil {
		return err
	}
	logger.Infof("[tweets] %d tweets fetched, %d new", len(tweets), inserted)

	path := filepath.Join(a.cfg.Store.DataDir, social.CSVFilename(sc.Query, time.Now()))
	if err := social.WriteCSV(path, tweets); err != nil {
		return err
	}
	logger.Infof("[tweets] export written to %s", path)
	return nil
}
