package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/torosent/fgaclient"
	"github.com/torosent/fgaclient/internal/httpclient"
)

func newTokenCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Print the authentication header for the configured credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			header, err := a.client.AuthenticationHeader(cmd.Context())
			if err != nil {
				return err
			}
			if len(header) == 0 {
				fmt.Fprintln(a.stdout, "# no authentication configured")
				return nil
			}
			keys := make([]string, 0, len(header))
			for k := range header {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(a.stdout, "%s: %s\n", k, header.Get(k))
			}
			return nil
		},
	}
}

type requestFlags struct {
	data  string
	form  []string
	query []string
}

func (f *requestFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.data, "data", "d", "", "JSON request body")
	cmd.Flags().StringArrayVar(&f.form, "form", nil, "Form field in key=value form (repeatable, sent url-encoded)")
	cmd.Flags().StringArrayVarP(&f.query, "query", "q", nil, "Query parameter in key=value form (repeatable)")
}

// build turns the flags into a request. --data and --form are mutually
// exclusive; the request builder rejects the combination.
func (f *requestFlags) build(method, path string) (*httpclient.Request, error) {
	req := &httpclient.Request{Method: method, URL: path}
	if f.data != "" {
		if !json.Valid([]byte(f.data)) {
			return nil, fmt.Errorf("--data is not valid JSON")
		}
		req.Body = []byte(f.data)
	}
	if len(f.form) > 0 {
		form, err := keyValues("--form", f.form)
		if err != nil {
			return nil, err
		}
		req.PostParams = httpclient.FormParams(form)
		req.Header = http.Header{"Content-Type": {httpclient.ContentTypeForm}}
	}
	if len(f.query) > 0 {
		query, err := keyValues("--query", f.query)
		if err != nil {
			return nil, err
		}
		req.Query = query
	}
	return req, nil
}

func keyValues(flag string, entries []string) (url.Values, error) {
	values := url.Values{}
	for _, entry := range entries {
		k, v, ok := strings.Cut(entry, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("%s must be in key=value format: %s", flag, entry)
		}
		values.Add(strings.TrimSpace(k), v)
	}
	return values, nil
}

func newRequestCommand(a *app) *cobra.Command {
	var flags requestFlags
	cmd := &cobra.Command{
		Use:   "request METHOD PATH",
		Short: "Send one request and print the response",
		Example: `  fgacurl request GET /stores
  fgacurl request POST /stores/$FGA_STORE_ID/check -d '{"tuple_key":{"user":"user:anne","relation":"viewer","object":"document:1"}}'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := flags.build(strings.ToUpper(args[0]), args[1])
			if err != nil {
				return err
			}
			resp, err := a.client.Do(cmd.Context(), req)
			if err != nil {
				var apiErr *fgaclient.APIError
				if errors.As(err, &apiErr) {
					if rerr := render(a.stdout, a.format, envelope(apiErr.StatusCode, apiErr.Reason, apiErr.Body)); rerr != nil {
						return rerr
					}
				}
				return err
			}
			return render(a.stdout, a.format, envelope(resp.StatusCode, resp.Reason, resp.Data))
		},
	}
	flags.register(cmd)
	return cmd
}

func newStreamCommand(a *app) *cobra.Command {
	var flags requestFlags
	cmd := &cobra.Command{
		Use:   "stream PATH",
		Short: "POST to a streaming endpoint and print each record as it arrives",
		Example: `  fgacurl stream /stores/$FGA_STORE_ID/streamed-list-objects -d '{"type":"document","relation":"viewer","user":"user:anne"}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := flags.build(http.MethodPost, args[0])
			if err != nil {
				return err
			}
			records := 0
			for rec, err := range a.client.Stream(cmd.Context(), req) {
				if err != nil {
					return err
				}
				if err := renderRecord(a.stdout, a.format, rec); err != nil {
					return err
				}
				records++
			}
			a.logger.Debug("stream finished", "records", records)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}
