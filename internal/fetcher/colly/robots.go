package collyfetcher

import (
	"errors"
	"io"
	"net/http"
	"strings"
)

// robotsFallbackTransport treats an unreachable robots.txt as allow-all so a
// broken robots endpoint does not cost the entity its homepage.
type robotsFallbackTransport struct {
	base http.RoundTripper
}

func (t *robotsFallbackTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("robots transport received nil request")
	}
	resp, err := t.base.RoundTrip(req)
	if !isRobotsTxtRequest(req) {
		return resp, err
	}
	if err != nil {
		return allowAllRobots(req), nil
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		_ = resp.Body.Close()
		return allowAllRobots(req), nil
	}
	return resp, nil
}

func isRobotsTxtRequest(req *http.Request) bool {
	if req == nil || req.URL == nil {
		return false
	}
	return strings.EqualFold(req.URL.Path, "/robots.txt")
}

func allowAllRobots(req *http.Request) *http.Response {
	const body = "User-agent: *\nAllow: /"
	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        "200 OK",
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
		Header:        make(http.Header),
		Request:       req,
	}
}
