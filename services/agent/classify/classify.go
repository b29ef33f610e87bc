// Copyright (C) 2026 Chartflow Systems (eng@chartflow.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package classify maps outbound requests to resource classes.
//
// Classification is a pure, total function over static rule tables:
// ordered path lists for static assets and the three API tiers, plus
// an image extension/MIME match. The first matching rule wins and an
// unmatched request always resolves to ClassOther. There is no error
// path; absence of a match is not a failure.
package classify

import (
	"net/url"
	"path"
	"strings"
	"sync/atomic"
)

// ResourceClass identifies the caching tier of an outbound request.
type ResourceClass int

const (
	// ClassOther is the total-function default for unmatched requests.
	ClassOther ResourceClass = iota

	// ClassStaticAsset is versioned application shell content
	// (scripts, styles, fonts, markup).
	ClassStaticAsset

	// ClassCriticalAPI is data the application cannot render without
	// (session, chart layout). Served network-first with stale fallback.
	ClassCriticalAPI

	// ClassImportantAPI is data worth preloading at activation
	// (symbol directory, watchlists).
	ClassImportantAPI

	// ClassNormalAPI is remaining API traffic.
	ClassNormalAPI

	// ClassImage is bitmap/vector image content.
	ClassImage
)

// String returns the class name used in logs and metrics labels.
func (c ResourceClass) String() string {
	switch c {
	case ClassStaticAsset:
		return "static_asset"
	case ClassCriticalAPI:
		return "critical_api"
	case ClassImportantAPI:
		return "important_api"
	case ClassNormalAPI:
		return "normal_api"
	case ClassImage:
		return "image"
	default:
		return "other"
	}
}

// ParseClass resolves a class name as written in configuration and
// metrics labels. Reports false for unknown names.
func ParseClass(name string) (ResourceClass, bool) {
	switch name {
	case "static_asset":
		return ClassStaticAsset, true
	case "critical_api":
		return ClassCriticalAPI, true
	case "important_api":
		return ClassImportantAPI, true
	case "normal_api":
		return ClassNormalAPI, true
	case "image":
		return ClassImage, true
	case "other":
		return ClassOther, true
	}
	return ClassOther, false
}

// imageExtensions are matched against the URL path, lowercased.
var imageExtensions = map[string]struct{}{
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".webp": {},
	".svg": {}, ".ico": {}, ".avif": {}, ".bmp": {},
}

// Rules holds the ordered pattern lists classification runs against.
//
// Path entries are prefix matches ("/static/") unless they carry no
// trailing slash, in which case they match exactly or as a prefix of
// a longer path segment. Extension entries ("*.js") match the path
// suffix. Evaluation order is: static assets, critical, important,
// normal, image, other.
type Rules struct {
	StaticAssetPaths  []string
	CriticalAPIPaths  []string
	ImportantAPIPaths []string
	NormalAPIPaths    []string
}

// DefaultRules returns rule tables for the chart application's URL
// space. Deployments override these through the config file.
func DefaultRules() Rules {
	return Rules{
		StaticAssetPaths: []string{
			"/", "/index.html", "/static/", "/assets/",
			"*.js", "*.css", "*.html", "*.woff2", "*.map",
		},
		CriticalAPIPaths: []string{
			"/api/critical/", "/api/session", "/api/charts/layout",
		},
		ImportantAPIPaths: []string{
			"/api/important/", "/api/symbols", "/api/watchlist",
		},
		NormalAPIPaths: []string{
			"/api/",
		},
	}
}

// Classifier evaluates Rules against requests.
//
// The rule set is swappable at runtime (config hot reload) through an
// atomic pointer, so Classify never takes a lock.
//
// Thread Safety: safe for concurrent use.
type Classifier struct {
	rules atomic.Pointer[Rules]
}

// NewClassifier creates a Classifier over the given rules.
func NewClassifier(rules Rules) *Classifier {
	c := &Classifier{}
	c.rules.Store(&rules)
	return c
}

// Reload atomically replaces the rule tables.
// In-flight classifications finish against the old tables.
func (c *Classifier) Reload(rules Rules) {
	c.rules.Store(&rules)
}

// Rules returns the current rule tables.
func (c *Classifier) Rules() Rules {
	return *c.rules.Load()
}

// Classify resolves an outbound request to its ResourceClass.
//
// Description:
//
//	Pure, total, deterministic. Matches the request path against the
//	ordered rule lists; first match wins. The accept parameter is the
//	request's Accept header and only participates in image matching.
//
// Inputs:
//
//	method - HTTP method. Non-GET API calls still classify by path.
//	rawURL - Absolute or path-only request URL.
//	accept - Accept header value, may be empty.
//
// Outputs:
//
//	ResourceClass - Never fails; unmatched requests are ClassOther.
//
// Thread Safety: safe for concurrent use.
func (c *Classifier) Classify(method, rawURL, accept string) ResourceClass {
	_ = method // kept in the surface: the request key is (method, url)

	requestPath := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		requestPath = u.Path
	}
	requestPath = strings.ToLower(requestPath)

	rules := c.rules.Load()

	if matchAny(rules.StaticAssetPaths, requestPath) {
		return ClassStaticAsset
	}
	if matchAny(rules.CriticalAPIPaths, requestPath) {
		return ClassCriticalAPI
	}
	if matchAny(rules.ImportantAPIPaths, requestPath) {
		return ClassImportantAPI
	}
	if matchAny(rules.NormalAPIPaths, requestPath) {
		return ClassNormalAPI
	}
	if isImage(requestPath, accept) {
		return ClassImage
	}
	return ClassOther
}

// matchAny reports whether requestPath matches any rule in order.
func matchAny(rules []string, requestPath string) bool {
	for _, rule := range rules {
		if matchRule(rule, requestPath) {
			return true
		}
	}
	return false
}

func matchRule(rule, requestPath string) bool {
	switch {
	case strings.HasPrefix(rule, "*."):
		return strings.HasSuffix(requestPath, strings.ToLower(rule[1:]))
	case rule == "/":
		return requestPath == "/"
	case strings.HasSuffix(rule, "/"):
		return strings.HasPrefix(requestPath, strings.ToLower(rule))
	default:
		lower := strings.ToLower(rule)
		return requestPath == lower || strings.HasPrefix(requestPath, lower+"/")
	}
}

func isImage(requestPath, accept string) bool {
	if _, ok := imageExtensions[path.Ext(requestPath)]; ok {
		return true
	}
	return strings.HasPrefix(accept, "image/")
}
