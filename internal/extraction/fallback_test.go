package extraction

import (
	"context"
	"errors"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// stubProvider records its invocations and returns a canned result or error.
type stubProvider struct {
	name  string
	data  *ReceiptData
	err   error
	calls int
}

func (s *stubProvider) Name() string {
	return s.name
}

func (s *stubProvider) ExtractReceipt(ctx context.Context, image []byte, contentType string) (*ReceiptData, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.data, nil
}

func (s *stubProvider) Close() error {
	return nil
}

var _ = Describe("Fallback", func() {
	var (
		providers []Provider
		chain     *Fallback
		buildErr  error
	)

	JustBeforeEach(func() {
		chain, buildErr = NewFallback(providers...)
	})

	When("constructed with no providers", func() {
		BeforeEach(func() {
			providers = nil
		})

		It("fails eagerly", func() {
			Expect(buildErr).To(HaveOccurred())
			Expect(chain).To(BeNil())
		})
	})

	When("earlier providers fail for different reasons", func() {
		var (
			quotaFail  *stubProvider
			configFail *stubProvider
			winner     *stubProvider
			want       *ReceiptData
		)

		BeforeEach(func() {
			want = &ReceiptData{Items: []ReceiptItem{{Name: "Coffee", Price: 4.50}}}
			quotaFail = &stubProvider{
				name: "a",
				err:  NewError("a", KindQuota, "quota exceeded", nil),
			}
			configFail = &stubProvider{
				name: "b",
				err:  NewError("b", KindConfiguration, "not configured", nil),
			}
			winner = &stubProvider{name: "c", data: want}
			providers = []Provider{quotaFail, configFail, winner}
		})

		It("returns the first successful provider's result", func() {
			data, err := chain.ExtractReceipt(context.Background(), []byte("img"), "image/png")
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(BeIdenticalTo(want))
		})

		It("invokes each failed provider exactly once, in order", func() {
			_, err := chain.ExtractReceipt(context.Background(), []byte("img"), "image/png")
			Expect(err).NotTo(HaveOccurred())
			Expect(quotaFail.calls).To(Equal(1))
			Expect(configFail.calls).To(Equal(1))
			Expect(winner.calls).To(Equal(1))
		})
	})

	When("the first provider succeeds", func() {
		var second *stubProvider

		BeforeEach(func() {
			second = &stubProvider{name: "b", data: &ReceiptData{}}
			providers = []Provider{
				&stubProvider{name: "a", data: &ReceiptData{}},
				second,
			}
		})

		It("never invokes the rest of the chain", func() {
			_, err := chain.ExtractReceipt(context.Background(), []byte("img"), "image/png")
			Expect(err).NotTo(HaveOccurred())
			Expect(second.calls).To(BeZero())
		})
	})

	When("every provider fails", func() {
		BeforeEach(func() {
			providers = []Provider{
				&stubProvider{name: "a", err: fmt.Errorf("network down")},
				&stubProvider{name: "b", err: fmt.Errorf("image unreadable by b")},
			}
		})

		It("returns an aggregate error carrying the last failure message", func() {
			_, err := chain.ExtractReceipt(context.Background(), []byte("img"), "image/png")
			Expect(err).To(HaveOccurred())

			var aggErr *AllProvidersError
			Expect(errors.As(err, &aggErr)).To(BeTrue())
			Expect(err.Error()).To(ContainSubstring("image unreadable by b"))
		})
	})

	When("the caller cancels mid-chain", func() {
		var second *stubProvider

		BeforeEach(func() {
			second = &stubProvider{name: "b", data: &ReceiptData{}}
			providers = []Provider{
				&stubProvider{name: "a", err: context.Canceled},
				second,
			}
		})

		It("stops instead of falling through", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			_, err := chain.ExtractReceipt(ctx, []byte("img"), "image/png")
			Expect(err).To(MatchError(context.Canceled))
			Expect(second.calls).To(BeZero())
		})
	})

	When("nested as a provider itself", func() {
		BeforeEach(func() {
			inner, err := NewFallback(&stubProvider{
				name: "inner",
				data: &ReceiptData{Items: []ReceiptItem{{Name: "Tea", Price: 2.00}}},
			})
			Expect(err).NotTo(HaveOccurred())
			providers = []Provider{
				&stubProvider{name: "a", err: fmt.Errorf("boom")},
				inner,
			}
		})

		It("behaves like any other provider", func() {
			data, err := chain.ExtractReceipt(context.Background(), []byte("img"), "image/png")
			Expect(err).NotTo(HaveOccurred())
			Expect(data.Items).To(HaveLen(1))
		})
	})
})

var _ = Describe("ClassifyKind", func() {
	It("detects quota wording", func() {
		Expect(ClassifyKind(fmt.Errorf("429 too many requests"))).To(Equal(KindQuota))
		Expect(ClassifyKind(fmt.Errorf("monthly quota exceeded"))).To(Equal(KindQuota))
		Expect(ClassifyKind(fmt.Errorf("rate limit hit"))).To(Equal(KindQuota))
	})

	It("detects configuration wording", func() {
		Expect(ClassifyKind(fmt.Errorf("service not configured"))).To(Equal(KindConfiguration))
		Expect(ClassifyKind(fmt.Errorf("invalid credentials"))).To(Equal(KindConfiguration))
		Expect(ClassifyKind(fmt.Errorf("401 unauthorized"))).To(Equal(KindConfiguration))
	})

	It("defaults to other", func() {
		Expect(ClassifyKind(fmt.Errorf("connection reset"))).To(Equal(KindOther))
		Expect(ClassifyKind(nil)).To(Equal(KindOther))
	})

	It("honors the kind already attached to an extraction error", func() {
		err := NewError("x", KindNoData, "nothing recognized", nil)
		Expect(ClassifyKind(fmt.Errorf("wrapped: %w", err))).To(Equal(KindNoData))
	})
})
