package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

// adminClient is the CLI's side of pkg/coordinator's AdminHandler: the
// management surface every operator verb below drives.
type adminClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func newAdminClient(cmd *cobra.Command) *adminClient {
	remote, _ := cmd.Flags().GetString("remote")
	port, _ := cmd.Flags().GetInt("port")
	key, _ := cmd.Flags().GetString("key")
	ssl, _ := cmd.Flags().GetBool("ssl")
	scheme := "http"
	if ssl {
		scheme = "https"
	}
	return &adminClient{
		baseURL: fmt.Sprintf("%s://%s:%d", scheme, remote, port),
		token:   key,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (a *adminClient) do(method, path string, body interface{}) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequest(method, a.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("pacemaker: %s %s: %s", method, path, bytes.TrimSpace(data))
	}
	return data, nil
}

func prettyPrint(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		fmt.Println(string(data))
		return nil
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
