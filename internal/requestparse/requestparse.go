// Package requestparse turns an attack author's template text back into a
// structured request record: a request line ("GET /api/login?user=x
// HTTP/1.1"), optional header lines, and a blank-line-delimited body. It is
// deliberately not a general HTTP/1.1 wire parser (no chunked transfer
// encoding, no multipart, no folded headers); it recovers just the record
// the coordinator hands to the agent RPC.
package requestparse

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/vectorsuite/orchestrator/internal/errortax"
	"github.com/vectorsuite/orchestrator/internal/model"
)

func invalidConfig(reason string) error {
	return errortax.New(errortax.KindInvalidAttackConfig, reason)
}

// Parse turns an injected attack-request string into a model.Request.
// text's first line is "METHOD request-uri [HTTP/version]"; subsequent
// "Name: Value" lines up to the first blank line are headers; anything
// after the blank line is the body verbatim. A relative request-uri is
// resolved against baseURL (the attack's configured target origin), or
// against the template's own Host header when no base URL is configured.
func Parse(text string, baseURL string) (model.Request, error) {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) == "" {
		return model.Request{}, invalidConfig("request template produced an empty request line")
	}

	method, requestURI, err := parseRequestLine(lines[0])
	if err != nil {
		return model.Request{}, err
	}

	var headers []model.Header
	bodyStart := len(lines)
	for i := 1; i < len(lines); i++ {
		line := lines[i]
		if strings.TrimSpace(line) == "" {
			bodyStart = i + 1
			break
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return model.Request{}, invalidConfig(fmt.Sprintf("malformed header line %q", line))
		}
		headers = append(headers, model.Header{
			Name:  strings.TrimSpace(name),
			Value: strings.TrimSpace(value),
		})
		bodyStart = i + 1
	}

	var body []byte
	if bodyStart < len(lines) {
		rest := strings.Join(lines[bodyStart:], "\n")
		if rest != "" {
			body = []byte(rest)
		}
	}

	if baseURL == "" {
		for _, h := range headers {
			if strings.EqualFold(h.Name, "Host") && h.Value != "" {
				baseURL = "http://" + h.Value
				break
			}
		}
	}
	resolvedURL, err := resolveURL(requestURI, baseURL)
	if err != nil {
		return model.Request{}, err
	}

	req := model.Request{
		Method:  model.Method(strings.ToUpper(method)),
		URL:     resolvedURL,
		Headers: headers,
		Body:    body,
	}
	if err := req.Validate(); err != nil {
		return model.Request{}, invalidConfig(err.Error())
	}
	return req, nil
}

// parseRequestLine accepts "METHOD uri HTTP/1.1" or the bare "METHOD uri".
func parseRequestLine(line string) (method, uri string, err error) {
	fields := strings.Fields(line)
	switch len(fields) {
	case 2:
		return fields[0], fields[1], nil
	case 3:
		if !strings.HasPrefix(strings.ToUpper(fields[2]), "HTTP/") {
			return "", "", invalidConfig(fmt.Sprintf("malformed request line %q", line))
		}
		return fields[0], fields[1], nil
	default:
		return "", "", invalidConfig(fmt.Sprintf("malformed request line %q", line))
	}
}

func resolveURL(requestURI, baseURL string) (string, error) {
	u, err := url.Parse(requestURI)
	if err != nil {
		return "", invalidConfig(fmt.Sprintf("invalid request-uri %q: %v", requestURI, err))
	}
	if u.IsAbs() {
		return requestURI, nil
	}
	if baseURL == "" {
		return "", invalidConfig(fmt.Sprintf("request-uri %q is relative and no base URL is configured", requestURI))
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return "", invalidConfig(fmt.Sprintf("invalid base URL %q: %v", baseURL, err))
	}
	return base.ResolveReference(u).String(), nil
}
