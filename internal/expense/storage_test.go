package expense

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("LocalStorage", func() {
	var (
		storage *LocalStorage
		tmpDir  string
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		var err error
		storage, err = NewLocalStorage(tmpDir)
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("Save", func() {
		It("writes the file under the expense's subdirectory", func() {
			path, err := storage.Save("ABC234", "receipt.jpg", []byte("image-bytes"))
			Expect(err).NotTo(HaveOccurred())
			Expect(path).To(Equal(filepath.Join("ABC234", "receipt.jpg")))

			data, err := os.ReadFile(filepath.Join(tmpDir, path))
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(Equal([]byte("image-bytes")))
		})
	})

	Describe("Get", func() {
		It("reads back saved data", func() {
			path, err := storage.Save("ABC234", "receipt.jpg", []byte("image-bytes"))
			Expect(err).NotTo(HaveOccurred())

			data, err := storage.Get(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(Equal([]byte("image-bytes")))
		})

		It("fails for missing paths", func() {
			_, err := storage.Get("ABC234/missing.jpg")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Delete", func() {
		It("removes the file", func() {
			path, err := storage.Save("ABC234", "receipt.jpg", []byte("image-bytes"))
			Expect(err).NotTo(HaveOccurred())

			Expect(storage.Delete(path)).To(Succeed())

			_, err = storage.Get(path)
			Expect(err).To(HaveOccurred())
		})
	})
})
