package catalog_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/causewatch/causewatch/internal/catalog"
)

var _ = Describe("catalog client", func() {
	It("requests the causes endpoint with paging parameters", func() {
		var gotPath, gotOffset, gotLimit string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			gotOffset = r.URL.Query().Get("offset")
			gotLimit = r.URL.Query().Get("limit")
			_ = json.NewEncoder(w).Encode([]catalog.Cause{
				{ID: "c1", Name: "oceans", Projects: []catalog.Project{{ID: "p1", Name: "Ocean Cleanup"}}},
			})
		}))
		defer server.Close()

		client := catalog.NewClient(catalog.ClientOptions{BaseURL: server.URL})
		causes, err := client.ListCauses(context.TODO(), 20, 10)
		Expect(err).To(BeNil())
		Expect(causes).To(HaveLen(1))
		Expect(causes[0].Projects[0].Name).To(Equal("Ocean Cleanup"))

		Expect(gotPath).To(Equal("/api/v1/causes"))
		Expect(gotOffset).To(Equal("20"))
		Expect(gotLimit).To(Equal("10"))
	})

	It("turns non-200 responses into errors", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", http.StatusBadGateway)
		}))
		defer server.Close()

		client := catalog.NewClient(catalog.ClientOptions{BaseURL: server.URL})
		_, err := client.ListCauses(context.TODO(), 0, 10)
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("502"))
	})

	It("fails on malformed payloads", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("{not json"))
		}))
		defer server.Close()

		client := catalog.NewClient(catalog.ClientOptions{BaseURL: server.URL})
		_, err := client.ListCauses(context.TODO(), 0, 10)
		Expect(err).To(HaveOccurred())
	})
})
