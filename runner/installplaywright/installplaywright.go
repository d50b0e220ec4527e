// Package installplaywright downloads the browsers the fallback tier needs.
package installplaywright

import (
	"context"

	"github.com/playwright-community/playwright-go"

	"github.com/khushsoniamparo/Google-Extractor/runner"
)

type install struct{}

func New(_ *runner.Config) (runner.Runner, error) {
	return &install{}, nil
}

func (i *install) Run(context.Context) error {
	return playwright.Install(&playwright.RunOptions{
		Browsers: []string{"chromium"},
	})
}

func (i *install) Close(context.Context) error {
	return nil
}
