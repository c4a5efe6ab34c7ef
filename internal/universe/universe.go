// Package universe defines the investable asset classes and the tickers the
// optimizer is allowed to allocate to.
package universe

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// AssetClass groups tickers for reporting.
type AssetClass string

const (
	Stock      AssetClass = "Stock"
	Crypto     AssetClass = "Crypto"
	Commodity  AssetClass = "Commodity"
	MutualFund AssetClass = "MutualFund"

	// overlay and fallback classes, never optimized
	Prediction AssetClass = "Prediction"
	Sports     AssetClass = "Sports"
	Lottery    AssetClass = "Lottery"
	Cash       AssetClass = "Cash"
)

// CoreClasses lists the optimizable classes in reporting order.
var CoreClasses = []AssetClass{Stock, Crypto, Commodity, MutualFund}

// Optimizable reports whether tickers of this class can be fed to the optimizer.
func (c AssetClass) Optimizable() bool {
	switch c {
	case Stock, Crypto, Commodity, MutualFund:
		return true
	}
	return false
}

// Group is one asset class and its tickers.
type Group struct {
	Class   AssetClass `yaml:"class"`
	Tickers []string   `yaml:"tickers"`
}

// Universe is the ordered set of groups available to the optimizer.
type Universe struct {
	Groups []Group `yaml:"classes"`

	index map[string]AssetClass
}

// Default returns the built-in universe.
func Default() *Universe {
	u := &Universe{Groups: []Group{
		{Class: Stock, Tickers: []string{"SPY", "QQQ", "VTI", "EEM"}},
		{Class: Crypto, Tickers: []string{"BTC-USD", "ETH-USD", "SOL-USD"}},
		{Class: Commodity, Tickers: []string{"GLD", "USO", "SLV"}},
		{Class: MutualFund, Tickers: []string{"VTSAX", "VFIAX"}},
	}}
	u.buildIndex()
	return u
}

// Load reads a YAML universe file of the form
//
//	classes:
//	  - class: Stock
//	    tickers: [SPY, QQQ]
func Load(path string) (*Universe, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from operator config
	if err != nil {
		return nil, fmt.Errorf("read universe file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML universe document.
func Parse(data []byte) (*Universe, error) {
	var u Universe
	if err := yaml.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("parse universe: %w", err)
	}
	for i := range u.Groups {
		for j, t := range u.Groups[i].Tickers {
			u.Groups[i].Tickers[j] = strings.ToUpper(strings.TrimSpace(t))
		}
	}
	if err := u.Validate(); err != nil {
		return nil, err
	}
	u.buildIndex()
	return &u, nil
}

// Validate checks the universe can be optimized.
func (u *Universe) Validate() error {
	var errs []error
	seen := make(map[string]AssetClass)
	total := 0

	for _, g := range u.Groups {
		if !g.Class.Optimizable() {
			errs = append(errs, fmt.Errorf("asset class %q cannot be optimized", g.Class))
			continue
		}
		if len(g.Tickers) == 0 {
			errs = append(errs, fmt.Errorf("asset class %q has no tickers", g.Class))
		}
		for _, t := range g.Tickers {
			if t == "" {
				errs = append(errs, fmt.Errorf("asset class %q has an empty ticker", g.Class))
				continue
			}
			if prev, dup := seen[t]; dup {
				errs = append(errs, fmt.Errorf("ticker %s listed under both %s and %s", t, prev, g.Class))
				continue
			}
			seen[t] = g.Class
			total++
		}
	}

	if total < 2 {
		errs = append(errs, fmt.Errorf("universe needs at least 2 tickers, got %d", total))
	}

	return errors.Join(errs...)
}

// Tickers returns every ticker in group order.
func (u *Universe) Tickers() []string {
	var out []string
	for _, g := range u.Groups {
		out = append(out, g.Tickers...)
	}
	return out
}

// ClassOf returns the class a ticker belongs to.
func (u *Universe) ClassOf(ticker string) (AssetClass, bool) {
	if u.index != nil {
		c, ok := u.index[ticker]
		return c, ok
	}
	// literal universes have no index
	for _, g := range u.Groups {
		for _, t := range g.Tickers {
			if t == ticker {
				return g.Class, true
			}
		}
	}
	return "", false
}

func (u *Universe) buildIndex() {
	u.index = make(map[string]AssetClass)
	for _, g := range u.Groups {
		for _, t := range g.Tickers {
			u.index[t] = g.Class
		}
	}
}
