package hydra

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// BuildIDFinder extracts the id of a job's latest build from its HTML job
// page. It is the only place that knows Hydra's markup.
type BuildIDFinder interface {
	FindBuildID(page io.Reader) (uint64, error)
}

const (
	warningSelector   = ".alert.alert-warning"
	buildLinkSelector = "#tabs-status table td a.row-link"
)

// HTMLFinder reads the job page the way Hydra renders it: a warning alert
// when the job dropped out of the latest evaluation, otherwise a status
// table whose first row links to the newest build.
type HTMLFinder struct{}

// FindBuildID implements BuildIDFinder.
func (HTMLFinder) FindBuildID(page io.Reader) (uint64, error) {
	doc, err := goquery.NewDocumentFromReader(page)
	if err != nil {
		return 0, fmt.Errorf("parse job page: %w", err)
	}

	if doc.Find(warningSelector).Length() > 0 {
		return 0, ErrNotInEvaluation
	}

	link := doc.Find(buildLinkSelector).First()
	if link.Length() == 0 {
		return 0, ErrLatestBuildNotFound
	}

	id, err := strconv.ParseUint(strings.TrimSpace(link.Text()), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrLatestBuildNotFound, err)
	}
	return id, nil
}

// FinderFunc adapts a plain function to BuildIDFinder.
type FinderFunc func(page io.Reader) (uint64, error)

// FindBuildID implements BuildIDFinder.
func (f FinderFunc) FindBuildID(page io.Reader) (uint64, error) {
	return f(page)
}
