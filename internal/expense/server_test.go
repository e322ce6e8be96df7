package expense

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/jspencer/billsplit/internal/extraction"
)

var _ = Describe("Server", func() {
	var (
		db          *mockDB
		provider    *mockProvider
		service     *Service
		server      *Server
		auth        BasicAuth
		ghttpServer *ghttp.Server
	)

	setupServer := func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
		ghttpServer = ghttp.NewServer()
		ghttpServer.AppendHandlers(server.ServeHTTP)
	}

	// serveNext queues the app server for one more request.
	serveNext := func() {
		ghttpServer.AppendHandlers(server.ServeHTTP)
	}

	multipartImage := func(filename string, data []byte) (*bytes.Buffer, string) {
		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)
		part, err := writer.CreateFormFile("image", filename)
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write(data)
		Expect(err).NotTo(HaveOccurred())
		Expect(writer.Close()).To(Succeed())
		return body, writer.FormDataContentType()
	}

	decodeBody := func(resp *http.Response) map[string]any {
		defer resp.Body.Close()
		var payload map[string]any
		Expect(json.NewDecoder(resp.Body).Decode(&payload)).To(Succeed())
		return payload
	}

	BeforeEach(func() {
		db = newMockDB()
		provider = newMockProvider()
		service = NewServiceWithDeps(db, provider, newMockStorage(),
			&seqIDGenerator{},
			&fixedTimeSource{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)},
		)
		auth = BasicAuth{}
		server = NewServerWithMux(service, auth, http.NewServeMux())
		setupServer()
	})

	AfterEach(func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
	})

	Describe("handleCreateExpense", func() {
		It("returns a new expense with a share code", func() {
			resp, err := http.Post(ghttpServer.URL()+"/api/expenses", "application/json", nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			payload := decodeBody(resp)
			Expect(ValidShareCode(payload["code"].(string))).To(BeTrue())
		})
	})

	Describe("handleGetExpense", func() {
		When("the expense exists", func() {
			BeforeEach(func() {
				db.expenses["ABC234"] = &Expense{Code: "ABC234"}
			})

			It("returns it", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/expenses/ABC234")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(decodeBody(resp)["code"]).To(Equal("ABC234"))
			})
		})

		When("the expense does not exist", func() {
			It("returns status Not Found", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/expenses/ZZZZZZ")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
				resp.Body.Close()
			})
		})
	})

	Describe("handleExtractReceipt", func() {
		post := func() *http.Response {
			body, contentType := multipartImage("receipt.jpg", []byte("image-bytes"))
			resp, err := http.Post(ghttpServer.URL()+"/api/ocr", contentType, body)
			Expect(err).NotTo(HaveOccurred())
			return resp
		}

		When("extraction succeeds", func() {
			BeforeEach(func() {
				provider.data = &extraction.ReceiptData{
					Items:    []extraction.ReceiptItem{{Name: "Coffee", Price: 4.50}},
					Subtotal: subtotalPtr(4.50),
				}
			})

			It("returns the structured receipt data", func() {
				resp := post()
				Expect(resp.StatusCode).To(Equal(http.StatusOK))

				payload := decodeBody(resp)
				items := payload["items"].([]any)
				Expect(items).To(HaveLen(1))
				Expect(items[0].(map[string]any)["name"]).To(Equal("Coffee"))
			})
		})

		When("no image is uploaded", func() {
			It("returns status Bad Request", func() {
				resp, err := http.Post(ghttpServer.URL()+"/api/ocr", "application/json", strings.NewReader("{}"))
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(decodeBody(resp)["error"]).To(Equal("No image provided"))
			})
		})

		When("the provider is not configured", func() {
			BeforeEach(func() {
				provider.err = extraction.NewError("azure", extraction.KindConfiguration, "azure: not configured", nil)
			})

			It("returns status Service Unavailable without the fallback flag", func() {
				resp := post()
				Expect(resp.StatusCode).To(Equal(http.StatusServiceUnavailable))

				payload := decodeBody(resp)
				Expect(payload["error"]).To(ContainSubstring("not configured"))
				Expect(payload).NotTo(HaveKey("fallback"))
			})
		})

		When("the provider ran out of quota", func() {
			BeforeEach(func() {
				provider.err = extraction.NewError("azure", extraction.KindQuota, "azure: quota exceeded", nil)
			})

			It("returns status Too Many Requests with the fallback flag", func() {
				resp := post()
				Expect(resp.StatusCode).To(Equal(http.StatusTooManyRequests))
				Expect(decodeBody(resp)["fallback"]).To(Equal(true))
			})
		})

		When("the provider found no receipt data", func() {
			BeforeEach(func() {
				provider.err = extraction.NewError("azure", extraction.KindNoData, "azure: no receipt found", nil)
			})

			It("returns status Unprocessable Entity", func() {
				resp := post()
				Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))
				resp.Body.Close()
			})
		})

		When("the provider fails for an unknown reason", func() {
			BeforeEach(func() {
				provider.err = extraction.NewError("tesseract", extraction.KindOther, "tesseract: recognizing text: boom", nil)
			})

			It("returns status Internal Server Error with the fallback flag", func() {
				resp := post()
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
				Expect(decodeBody(resp)["fallback"]).To(Equal(true))
			})
		})
	})

	Describe("handleImportReceipt", func() {
		BeforeEach(func() {
			db.expenses["ABC234"] = &Expense{Code: "ABC234"}
		})

		post := func(code string) *http.Response {
			body, contentType := multipartImage("receipt.jpg", []byte("image-bytes"))
			resp, err := http.Post(ghttpServer.URL()+"/api/expenses/"+code+"/receipt", contentType, body)
			Expect(err).NotTo(HaveOccurred())
			return resp
		}

		When("the receipt reconciles", func() {
			BeforeEach(func() {
				provider.data = &extraction.ReceiptData{
					Items: []extraction.ReceiptItem{
						{Name: "Coffee", Price: 4.50},
						{Name: "Bagel", Price: 3.25},
					},
					Subtotal: subtotalPtr(7.75),
				}
			})

			It("commits the items and returns status Created", func() {
				resp := post("ABC234")
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))

				payload := decodeBody(resp)
				Expect(payload["needs_review"]).To(Equal(false))
				Expect(payload["added"].([]any)).To(HaveLen(2))
			})
		})

		When("the receipt needs review", func() {
			BeforeEach(func() {
				provider.data = &extraction.ReceiptData{
					Items:    []extraction.ReceiptItem{{Name: "Coffee", Price: 9.99}},
					Subtotal: subtotalPtr(18.00),
				}
			})

			It("returns status OK with the review reason and commits nothing", func() {
				resp := post("ABC234")
				Expect(resp.StatusCode).To(Equal(http.StatusOK))

				payload := decodeBody(resp)
				Expect(payload["needs_review"]).To(Equal(true))
				Expect(payload["reason"]).To(ContainSubstring("subtotal"))
				Expect(db.lineItems).To(BeEmpty())
			})
		})

		When("the expense does not exist", func() {
			It("returns status Not Found", func() {
				resp := post("ZZZZZZ")
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
				resp.Body.Close()
			})
		})
	})

	Describe("handleConfirmImport", func() {
		BeforeEach(func() {
			db.expenses["ABC234"] = &Expense{Code: "ABC234"}
		})

		It("commits the reviewed items", func() {
			body := `{"items":[{"name":"Coffee","price":4.50}]}`
			resp, err := http.Post(ghttpServer.URL()+"/api/expenses/ABC234/receipt/confirm", "application/json", strings.NewReader(body))
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			payload := decodeBody(resp)
			Expect(payload["added"].([]any)).To(HaveLen(1))
			Expect(db.lineItems).To(HaveLen(1))
		})

		It("rejects an empty item list", func() {
			resp, err := http.Post(ghttpServer.URL()+"/api/expenses/ABC234/receipt/confirm", "application/json", strings.NewReader(`{"items":[]}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			resp.Body.Close()
		})
	})

	Describe("participants and shares", func() {
		BeforeEach(func() {
			db.expenses["ABC234"] = &Expense{Code: "ABC234"}
		})

		It("supports the add, assign, shares flow", func() {
			resp, err := http.Post(ghttpServer.URL()+"/api/expenses/ABC234/participants", "application/json", strings.NewReader(`{"name":"Alice"}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			alice := decodeBody(resp)

			serveNext()
			resp, err = http.Post(ghttpServer.URL()+"/api/expenses/ABC234/items", "application/json", strings.NewReader(`{"name":"Coffee","price":4.50}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))
			item := decodeBody(resp)

			serveNext()
			assignBody := `{"assigned_to":["` + alice["id"].(string) + `"]}`
			resp, err = http.Post(ghttpServer.URL()+"/api/expenses/ABC234/items/"+item["id"].(string)+"/assign", "application/json", strings.NewReader(assignBody))
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			resp.Body.Close()

			serveNext()
			resp, err = http.Get(ghttpServer.URL() + "/api/expenses/ABC234/shares")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			defer resp.Body.Close()

			var shares []map[string]any
			Expect(json.NewDecoder(resp.Body).Decode(&shares)).To(Succeed())
			Expect(shares).To(HaveLen(1))
			Expect(shares[0]["amount"]).To(BeNumerically("~", 4.50, 1e-9))
		})
	})

	Describe("basic auth", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "user", Password: "pass"}
			server = NewServerWithMux(service, auth, http.NewServeMux())
			setupServer()
		})

		When("no credentials are provided", func() {
			It("returns status Unauthorized", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/expenses/ABC234")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
				Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Basic"))
				resp.Body.Close()
			})
		})

		When("valid credentials are provided", func() {
			BeforeEach(func() {
				db.expenses["ABC234"] = &Expense{Code: "ABC234"}
			})

			It("serves the request", func() {
				req, err := http.NewRequest("GET", ghttpServer.URL()+"/api/expenses/ABC234", nil)
				Expect(err).NotTo(HaveOccurred())
				req.SetBasicAuth("user", "pass")

				resp, err := http.DefaultClient.Do(req)
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				resp.Body.Close()
			})
		})

		When("wrong credentials are provided", func() {
			It("returns status Unauthorized", func() {
				req, err := http.NewRequest("GET", ghttpServer.URL()+"/api/expenses/ABC234", nil)
				Expect(err).NotTo(HaveOccurred())
				req.SetBasicAuth("user", "wrong")

				resp, err := http.DefaultClient.Do(req)
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
				resp.Body.Close()
			})
		})
	})
})
