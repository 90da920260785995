package main

import (
	"io"
	"net/http"
	"strings"
	"time"

	"voxelclaims.ai/internal/transport/httpapi"
)

// adminRequest calls an admin route. The server only honors the admin header
// from loopback callers with admin HTTP enabled.
func adminRequest(method, baseURL, path, player string) (int, []byte, error) {
	u := strings.TrimRight(strings.TrimSpace(baseURL), "/") + path
	req, err := http.NewRequest(method, u, nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set(httpapi.HeaderAdmin, "true")
	if p := strings.TrimSpace(player); p != "" {
		req.Header.Set(httpapi.HeaderPlayerID, p)
	}
	cl := &http.Client{Timeout: 10 * time.Second}
	resp, err := cl.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	return resp.StatusCode, b, err
}
