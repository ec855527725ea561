// Package router intercepts outbound requests, classifies them by URL
// and purpose, and serves each class with a fixed caching strategy
// backed by per-class durable-store partitions. The router fails open:
// when every option is exhausted it returns a structured unavailable
// response, never a raw network error.
package router

import (
	"net/http"
	"strings"
)

// Class is the resource class a request belongs to. Each class maps to
// exactly one strategy and one cache partition.
type Class string

const (
	ClassStaticAsset        Class = "static-asset"
	ClassMediaBinary        Class = "media-binary"
	ClassAuthEndpoint       Class = "auth-endpoint"
	ClassAssessmentEndpoint Class = "assessment-endpoint"
	ClassGenericAPI         Class = "generic-api"
	ClassDocument           Class = "document"
)

// Classes lists every class, in partition-allow-list order.
var Classes = []Class{
	ClassStaticAsset,
	ClassMediaBinary,
	ClassAuthEndpoint,
	ClassAssessmentEndpoint,
	ClassGenericAPI,
	ClassDocument,
}

// Strategy is the ordering of network-fetch vs cache-read attempts.
type Strategy int

const (
	CacheFirst Strategy = iota
	NetworkFirst
	AuthFirst
	AssessmentFirst
)

// StrategyFor returns the fixed strategy for a class.
func StrategyFor(c Class) Strategy {
	switch c {
	case ClassStaticAsset, ClassMediaBinary:
		return CacheFirst
	case ClassAuthEndpoint:
		return AuthFirst
	case ClassAssessmentEndpoint:
		return AssessmentFirst
	default:
		return NetworkFirst
	}
}

// Classify resolves a request into a Class. The rules are ordered; the
// first match wins. apiPort, when non-empty, marks any request to that
// port as generic API traffic even without an /api/ path. The resource
// type of browser-initiated requests arrives in Sec-Fetch-Dest.
func Classify(r *http.Request, apiPort string) Class {
	path := strings.ToLower(r.URL.Path)
	dest := strings.ToLower(r.Header.Get("Sec-Fetch-Dest"))

	switch {
	case containsAny(path, "/uploads/", "/profile-pictures/", "/avatars/", "/sounds/") ||
		hasSuffixAny(path, ".mp3", ".wav", ".ogg"):
		return ClassStaticAsset

	case strings.Contains(path, "/videos/") || hasSuffixAny(path, ".mp4", ".webm"):
		return ClassMediaBinary

	case containsAny(path, "/api/users/login", "/api/auth/", "/api/users/get-user-info"):
		return ClassAuthEndpoint

	case containsAny(path, "/api/exams/", "/api/questions/"):
		return ClassAssessmentEndpoint

	case strings.Contains(path, "/api/") || (apiPort != "" && r.URL.Port() == apiPort):
		return ClassGenericAPI

	case dest == "style" || dest == "script" || dest == "image" || dest == "font" ||
		strings.Contains(path, "/static/"):
		return ClassStaticAsset

	case dest == "document":
		return ClassDocument

	default:
		// Everything else is served network-first.
		return ClassDocument
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func hasSuffixAny(s string, suffixes ...string) bool {
	for _, suf := range suffixes {
		if strings.HasSuffix(s, suf) {
			return true
		}
	}
	return false
}
