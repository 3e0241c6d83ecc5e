package api

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/bookstore/market"
)

var (
	pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")
	pdfBytes = []byte("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n1 0 obj\n<<>>\nendobj\n")
)

// doForm sends a multipart form. files maps field name to content.
func (s *testServer) doForm(method, path string, fields map[string]string, files map[string][]byte, token string) *httptest.ResponseRecorder {
	s.t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(s.t, mw.WriteField(k, v))
	}
	for field, data := range files {
		fw, err := mw.CreateFormFile(field, field+".bin")
		require.NoError(s.t, err)
		_, err = fw.Write(data)
		require.NoError(s.t, err)
	}
	require.NoError(s.t, mw.Close())

	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func bookFields() map[string]string {
	return map[string]string{
		"title":       "Dune",
		"author":      "Frank Herbert",
		"description": "Spice and sand.",
		"price":       "12.50",
		"category":    "fiction",
	}
}

func TestCreateBook(t *testing.T) {
	s := newTestServer(t)
	admin, adminToken := s.addUser("Admin", "admin@example.com", "secret1", market.RoleAdmin)
	_, userToken := s.addUser("Reader", "reader@example.com", "secret1", market.RoleUser)

	t.Run("admin uploads cover and content", func(t *testing.T) {
		rec := s.doForm(http.MethodPost, "/api/books", bookFields(),
			map[string][]byte{"coverImage": pngBytes, "fileUrl": pdfBytes}, adminToken)

		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		book := decodeBody[BookDTO](t, rec)
		assert.Equal(t, "Dune", book.Title)
		assert.Equal(t, 12.5, book.Price)
		assert.Equal(t, "usd", book.Currency)
		assert.Equal(t, admin.ID, book.SellerID)
		assert.True(t, strings.HasPrefix(book.CoverImage, "http://api.test/assets/covers/"))
		assert.NotContains(t, rec.Body.String(), "/assets/content/")

		// The stored cover is served back.
		rec = s.do(http.MethodGet, strings.TrimPrefix(book.CoverImage, "http://api.test"), nil, "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, pngBytes, rec.Body.Bytes())
	})

	t.Run("non-admin is forbidden", func(t *testing.T) {
		rec := s.doForm(http.MethodPost, "/api/books", bookFields(),
			map[string][]byte{"coverImage": pngBytes, "fileUrl": pdfBytes}, userToken)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("missing files", func(t *testing.T) {
		rec := s.doForm(http.MethodPost, "/api/books", bookFields(),
			map[string][]byte{"coverImage": pngBytes}, adminToken)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "files_required", decodeBody[ErrorResponse](t, rec).Code)
	})

	t.Run("wrong content type", func(t *testing.T) {
		rec := s.doForm(http.MethodPost, "/api/books", bookFields(),
			map[string][]byte{"coverImage": pdfBytes, "fileUrl": pdfBytes}, adminToken)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "unsupported_file", decodeBody[ErrorResponse](t, rec).Code)
	})

	t.Run("missing fields", func(t *testing.T) {
		fields := bookFields()
		delete(fields, "title")
		rec := s.doForm(http.MethodPost, "/api/books", fields,
			map[string][]byte{"coverImage": pngBytes, "fileUrl": pdfBytes}, adminToken)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "validation_failed", decodeBody[ErrorResponse](t, rec).Code)
	})

	t.Run("bad price", func(t *testing.T) {
		fields := bookFields()
		fields["price"] = "-3"
		rec := s.doForm(http.MethodPost, "/api/books", fields,
			map[string][]byte{"coverImage": pngBytes, "fileUrl": pdfBytes}, adminToken)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "invalid_price", decodeBody[ErrorResponse](t, rec).Code)
	})
}

func TestListBooks_Filters(t *testing.T) {
	s := newTestServer(t)
	seller, _ := s.addUser("Seller", "seller@example.com", "secret1", market.RoleAdmin)
	other, _ := s.addUser("Other", "other@example.com", "secret1", market.RoleAdmin)
	s.addBook("Cheap", seller.ID, "4.99")
	s.addBook("Mid", seller.ID, "15.00")
	s.addBook("Dear", other.ID, "40.00")

	titles := func(rec *httptest.ResponseRecorder) []string {
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var out []string
		for _, b := range decodeBody[[]BookDTO](t, rec) {
			out = append(out, b.Title)
		}
		return out
	}

	assert.Len(t, titles(s.do(http.MethodGet, "/api/books", nil, "")), 3)
	assert.ElementsMatch(t, []string{"Mid", "Dear"}, titles(s.do(http.MethodGet, "/api/books?minPrice=10", nil, "")))
	assert.ElementsMatch(t, []string{"Cheap", "Mid"}, titles(s.do(http.MethodGet, "/api/books?maxPrice=15", nil, "")))
	assert.ElementsMatch(t, []string{"Mid"}, titles(s.do(http.MethodGet, "/api/books?minPrice=5&maxPrice=20", nil, "")))

	rec := s.do(http.MethodGet, "/api/books?minPrice=abc", nil, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_price", decodeBody[ErrorResponse](t, rec).Code)

	t.Run("by seller", func(t *testing.T) {
		_, token := s.addUser("Reader", "reader@example.com", "secret1", market.RoleUser)
		got := titles(s.do(http.MethodGet, "/api/books/seller/"+other.ID, nil, token))
		assert.Equal(t, []string{"Dear"}, got)
	})
}

func TestGetBook(t *testing.T) {
	s := newTestServer(t)
	seller, _ := s.addUser("Seller", "seller@example.com", "secret1", market.RoleAdmin)
	book := s.addBook("Dune", seller.ID, "12.50")

	rec := s.do(http.MethodGet, "/api/books/"+book.ID, nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, book.ID, decodeBody[BookDTO](t, rec).ID)

	rec = s.do(http.MethodGet, "/api/books/book_missing", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "book_not_found", decodeBody[ErrorResponse](t, rec).Code)
}

func TestGetBookContent_Access(t *testing.T) {
	s := newTestServer(t)
	seller, sellerToken := s.addUser("Seller", "seller@example.com", "secret1", market.RoleUser)
	_, adminToken := s.addUser("Admin", "admin@example.com", "secret1", market.RoleAdmin)
	buyer, buyerToken := s.addUser("Buyer", "buyer@example.com", "secret1", market.RoleUser)
	book := s.addBook("Dune", seller.ID, "12.50")
	path := "/api/books/" + book.ID + "/pdf"

	// GIVEN: a buyer who has not purchased the book
	rec := s.do(http.MethodGet, path, nil, buyerToken)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "not_entitled", decodeBody[ErrorResponse](t, rec).Code)

	// THEN: seller and admin can always read it
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, path, nil, sellerToken).Code)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, path, nil, adminToken).Code)

	// WHEN: the buyer is granted the book
	require.NoError(t, s.store.GrantEntitlement(context.Background(), buyer.ID, book.ID))

	// THEN: the buyer can read it
	rec = s.do(http.MethodGet, path, nil, buyerToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, book.ContentURL, decodeBody[ContentURLResponse](t, rec).PDFURL)

	// AND: anonymous callers cannot
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, path, nil, "").Code)
}

func TestUpdateBook(t *testing.T) {
	s := newTestServer(t)
	seller, sellerToken := s.addUser("Seller", "seller@example.com", "secret1", market.RoleUser)
	_, otherToken := s.addUser("Other", "other@example.com", "secret1", market.RoleUser)
	book := s.addBook("Dune", seller.ID, "12.50")
	path := "/api/books/" + book.ID

	t.Run("other user is forbidden", func(t *testing.T) {
		rec := s.doForm(http.MethodPut, path, map[string]string{"title": "Stolen"}, nil, otherToken)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("seller updates fields and cover", func(t *testing.T) {
		rec := s.doForm(http.MethodPut, path,
			map[string]string{"title": "Dune Messiah", "price": "14"},
			map[string][]byte{"coverImage": pngBytes}, sellerToken)

		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		got := decodeBody[BookDTO](t, rec)
		assert.Equal(t, "Dune Messiah", got.Title)
		assert.Equal(t, book.Author, got.Author)
		assert.Equal(t, 14.0, got.Price)
		assert.True(t, strings.HasPrefix(got.CoverImage, "http://api.test/assets/covers/"))

		stored, err := s.store.GetBook(context.Background(), book.ID)
		require.NoError(t, err)
		assert.Equal(t, book.ContentURL, stored.ContentURL)
		assert.Equal(t, book.Author, stored.Author)
	})

	t.Run("unknown book", func(t *testing.T) {
		rec := s.doForm(http.MethodPut, "/api/books/book_missing", map[string]string{"title": "x"}, nil, sellerToken)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestDeleteBook(t *testing.T) {
	s := newTestServer(t)
	seller, sellerToken := s.addUser("Seller", "seller@example.com", "secret1", market.RoleUser)
	buyer, otherToken := s.addUser("Other", "other@example.com", "secret1", market.RoleUser)
	book := s.addBook("Dune", seller.ID, "12.50")
	require.NoError(t, s.store.GrantEntitlement(context.Background(), buyer.ID, book.ID))

	rec := s.do(http.MethodDelete, "/api/books/"+book.ID, nil, otherToken)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodDelete, "/api/books/"+book.ID, nil, sellerToken)
	require.Equal(t, http.StatusOK, rec.Code)

	_, err := s.store.GetBook(context.Background(), book.ID)
	assert.ErrorIs(t, err, market.ErrBookNotFound)
	u, err := s.store.GetUser(context.Background(), buyer.ID)
	require.NoError(t, err)
	assert.NotContains(t, u.PurchasedBooks, book.ID)
}
