package api

import (
	"errors"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/warp/bookstore/assets"
	"github.com/warp/bookstore/market"
)

// =============================================================================
// CATALOG ENDPOINTS
// =============================================================================

// ListBooks returns the catalog, optionally filtered.
// GET /api/books?category=&author=&minPrice=&maxPrice=
func (h *Handler) ListBooks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := market.BookFilter{
		Category: q.Get("category"),
		Author:   q.Get("author"),
	}
	for param, dst := range map[string]**int64{"minPrice": &filter.MinPrice, "maxPrice": &filter.MaxPrice} {
		raw := q.Get(param)
		if raw == "" {
			continue
		}
		m, err := market.ParseMoney(raw, h.settings.Currency)
		if err != nil {
			writeCodedError(w, http.StatusBadRequest, "invalid_price", "Invalid "+param, err.Error())
			return
		}
		*dst = &m.Amount
	}

	h.writeBooks(w, r, filter)
}

// GetBook returns one book.
// GET /api/books/{id}
func (h *Handler) GetBook(w http.ResponseWriter, r *http.Request) {
	book, ok := h.loadBook(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toBookDTO(book))
}

// ListBooksBySeller returns a seller's books.
// GET /api/books/seller/{sellerId}
func (h *Handler) ListBooksBySeller(w http.ResponseWriter, r *http.Request) {
	h.writeBooks(w, r, market.BookFilter{SellerID: chi.URLParam(r, "sellerId")})
}

// GetBookContent returns the content URL to the seller, an admin, or a
// buyer who owns the book.
// GET /api/books/{id}/pdf
func (h *Handler) GetBookContent(w http.ResponseWriter, r *http.Request) {
	book, ok := h.loadBook(w, r)
	if !ok {
		return
	}
	if !book.CanRead(currentUser(r)) {
		h.writeDomainError(w, r, market.Forbidden("not_entitled", "Not authorized to access this book"))
		return
	}
	writeJSON(w, http.StatusOK, ContentURLResponse{PDFURL: book.ContentURL})
}

// =============================================================================
// CATALOG MANAGEMENT
// =============================================================================

// CreateBook stores a new book with its cover and content files. The
// caller becomes the seller.
// POST /api/books (multipart: title, author, description, price, category,
// currency?, coverImage, fileUrl)
func (h *Handler) CreateBook(w http.ResponseWriter, r *http.Request) {
	if !h.parseBookForm(w, r) {
		return
	}
	form := bookForm{
		Title:       strings.TrimSpace(r.FormValue("title")),
		Author:      strings.TrimSpace(r.FormValue("author")),
		Description: strings.TrimSpace(r.FormValue("description")),
		Price:       strings.TrimSpace(r.FormValue("price")),
		Category:    strings.TrimSpace(r.FormValue("category")),
	}
	if !h.validStruct(w, &form) {
		return
	}
	price, ok := h.parsePrice(w, r, form.Price)
	if !ok {
		return
	}

	cover, coverErr := formFile(r, "coverImage")
	content, contentErr := formFile(r, "fileUrl")
	if cover == nil || content == nil {
		if err := errors.Join(coverErr, contentErr); err != nil {
			writeCodedError(w, http.StatusBadRequest, "upload_failed", "File upload error", err.Error())
			return
		}
		writeCodedError(w, http.StatusBadRequest, "files_required", "Both cover image and book file are required", nil)
		return
	}
	defer cover.Close()
	defer content.Close()

	coverURL, ok := h.saveUpload(w, r, assets.KindCover, cover)
	if !ok {
		return
	}
	contentURL, ok := h.saveUpload(w, r, assets.KindContent, content)
	if !ok {
		h.discard(r, coverURL)
		return
	}

	now := h.now()
	book := &market.Book{
		ID:          market.NewID(market.PrefixBook),
		Title:       form.Title,
		Author:      form.Author,
		Description: form.Description,
		Price:       price,
		CoverURL:    coverURL,
		ContentURL:  contentURL,
		Category:    form.Category,
		SellerID:    currentUser(r).ID,
		PurchasedBy: []string{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := h.Store.CreateBook(r.Context(), book); err != nil {
		h.discard(r, coverURL, contentURL)
		h.writeDomainError(w, r, market.Internal("book_create_failed", "Error creating book", err))
		return
	}

	writeJSON(w, http.StatusCreated, toBookDTO(book))
}

// UpdateBook changes any subset of fields and files. Seller or admin only.
// PUT /api/books/{id}
func (h *Handler) UpdateBook(w http.ResponseWriter, r *http.Request) {
	book, ok := h.loadBook(w, r)
	if !ok {
		return
	}
	if !book.CanManage(currentUser(r)) {
		h.writeDomainError(w, r, market.Forbidden("not_seller", "Not authorized to update this book"))
		return
	}
	if !h.parseBookForm(w, r) {
		return
	}

	for field, dst := range map[string]*string{
		"title":       &book.Title,
		"author":      &book.Author,
		"description": &book.Description,
		"category":    &book.Category,
	} {
		if v := strings.TrimSpace(r.FormValue(field)); v != "" {
			*dst = v
		}
	}
	if raw := strings.TrimSpace(r.FormValue("price")); raw != "" {
		price, ok := h.parsePrice(w, r, raw)
		if !ok {
			return
		}
		book.Price = price
	}

	var replaced, added []string
	for _, up := range []struct {
		field string
		kind  assets.Kind
		dst   *string
	}{
		{"coverImage", assets.KindCover, &book.CoverURL},
		{"fileUrl", assets.KindContent, &book.ContentURL},
	} {
		f, err := formFile(r, up.field)
		if err != nil {
			h.discard(r, added...)
			writeCodedError(w, http.StatusBadRequest, "upload_failed", "File upload error", err.Error())
			return
		}
		if f == nil {
			continue
		}
		url, ok := h.saveUpload(w, r, up.kind, f)
		f.Close()
		if !ok {
			h.discard(r, added...)
			return
		}
		replaced = append(replaced, *up.dst)
		added = append(added, url)
		*up.dst = url
	}

	book.UpdatedAt = h.now()
	if err := h.Store.UpdateBook(r.Context(), book); err != nil {
		h.discard(r, added...)
		if errors.Is(err, market.ErrBookNotFound) {
			h.writeDomainError(w, r, market.NotFound("book_not_found", "Book not found", err))
			return
		}
		h.writeDomainError(w, r, market.Internal("book_update_failed", "Error updating book", err))
		return
	}
	h.discard(r, replaced...)

	writeJSON(w, http.StatusOK, toBookDTO(book))
}

// DeleteBook removes a book. Seller or admin only.
// DELETE /api/books/{id}
func (h *Handler) DeleteBook(w http.ResponseWriter, r *http.Request) {
	book, ok := h.loadBook(w, r)
	if !ok {
		return
	}
	if !book.CanManage(currentUser(r)) {
		h.writeDomainError(w, r, market.Forbidden("not_seller", "Not authorized to delete this book"))
		return
	}
	h.removeBook(w, r, book)
}

func (h *Handler) removeBook(w http.ResponseWriter, r *http.Request, book *market.Book) {
	if err := h.Store.DeleteBook(r.Context(), book.ID); err != nil {
		if errors.Is(err, market.ErrBookNotFound) {
			h.writeDomainError(w, r, market.NotFound("book_not_found", "Book not found", err))
			return
		}
		h.writeDomainError(w, r, market.Internal("book_delete_failed", "Error deleting book", err))
		return
	}
	h.discard(r, book.CoverURL, book.ContentURL)
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Book deleted successfully"})
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) writeBooks(w http.ResponseWriter, r *http.Request, filter market.BookFilter) {
	books, err := h.Store.ListBooks(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, r, market.Internal("book_list_failed", "Error fetching books", err))
		return
	}
	writeJSON(w, http.StatusOK, toBookDTOs(books))
}

func (h *Handler) loadBook(w http.ResponseWriter, r *http.Request) (*market.Book, bool) {
	book, err := h.Store.GetBook(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, market.ErrBookNotFound) {
			h.writeDomainError(w, r, market.NotFound("book_not_found", "Book not found", err))
			return nil, false
		}
		h.writeDomainError(w, r, market.Internal("book_lookup_failed", "Error fetching book", err))
		return nil, false
	}
	return book, true
}

// parseBookForm accepts multipart or urlencoded bodies. Two files plus
// fields may be uploaded, so the body limit is twice the per-file limit
// plus slack for the text fields.
func (h *Handler) parseBookForm(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 2*h.settings.MaxUploadBytes+maxJSONBody)
	err := r.ParseMultipartForm(32 << 20)
	if errors.Is(err, http.ErrNotMultipart) {
		err = r.ParseForm()
	}
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeCodedError(w, http.StatusRequestEntityTooLarge, "file_too_large", "Upload too large", nil)
			return false
		}
		writeCodedError(w, http.StatusBadRequest, "invalid_form", "Invalid form data", err.Error())
		return false
	}
	return true
}

func (h *Handler) parsePrice(w http.ResponseWriter, r *http.Request, raw string) (market.Money, bool) {
	currency := strings.TrimSpace(r.FormValue("currency"))
	if currency == "" {
		currency = h.settings.Currency
	}
	price, err := market.ParseMoney(raw, currency)
	if err != nil {
		writeCodedError(w, http.StatusBadRequest, "invalid_price", "Invalid price", err.Error())
		return market.Money{}, false
	}
	return price, true
}

// formFile returns nil, nil when the field is absent.
func formFile(r *http.Request, field string) (multipart.File, error) {
	if r.MultipartForm == nil {
		return nil, nil
	}
	f, _, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	return f, err
}

func (h *Handler) saveUpload(w http.ResponseWriter, r *http.Request, kind assets.Kind, f multipart.File) (string, bool) {
	url, err := h.Assets.Save(kind, f)
	switch {
	case err == nil:
		return url, true
	case errors.Is(err, assets.ErrTooLarge):
		writeCodedError(w, http.StatusRequestEntityTooLarge, "file_too_large", "File too large", nil)
	case errors.Is(err, assets.ErrUnsupportedType), errors.Is(err, assets.ErrEmpty):
		writeCodedError(w, http.StatusBadRequest, "unsupported_file", "Unsupported file type", err.Error())
	default:
		h.writeDomainError(w, r, market.Internal("upload_failed", "Failed to store file", err))
	}
	return "", false
}

// discard deletes stored files, logging failures.
func (h *Handler) discard(r *http.Request, urls ...string) {
	for _, u := range urls {
		if u == "" {
			continue
		}
		if err := h.Assets.Delete(u); err != nil {
			h.logger.WarnContext(r.Context(), "failed to delete asset", "url", u, "error", err)
		}
	}
}
