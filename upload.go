package evhttp

import (
	"bytes"
	"html"
	"io"
	"mime"
	"mime/multipart"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/xyproto/randomstring"
)

var errNoUploadedFiles = errors.New("multipart body carries no file parts")

// handleUpload stores the request body under pol.UploadStore.
//
// multipart/form-data bodies are split into their file parts; any other body
// is stored as one file, named after the URI for PUT and randomly for POST.
func (d *FileDispatcher) handleUpload(req *RequestView, pol *Policy) *Response {
	store := pol.UploadStore
	if fi, err := os.Stat(store); err != nil || !fi.IsDir() {
		d.Logger.Error().Str("upload_store", store).Msg("upload store is not a directory")
		return ErrorResponse(StatusInternalServerError, pol)
	}
	var (
		saved []string
		err   error
	)
	mediaType, params, _ := mime.ParseMediaType(req.ContentType())
	switch {
	case mediaType == "multipart/form-data" && params["boundary"] != "":
		saved, err = saveMultipart(store, req.Body, params["boundary"])
	case req.Method == MethodPut:
		var name string
		if name, err = uploadName(path.Base(req.URI)); err == nil {
			err = writeUpload(filepath.Join(store, name), req.Body, true)
			saved = []string{name}
		}
	default:
		name := randomstring.HumanFriendlyString(12) + extensionFor(mediaType)
		err = writeUpload(filepath.Join(store, name), req.Body, false)
		saved = []string{name}
	}
	if err != nil {
		d.Logger.Warn().Err(err).Str("upload_store", store).Msg("upload failed")
		if errors.Is(err, errNoUploadedFiles) || errors.Is(err, errBadUploadName) {
			return ErrorResponse(StatusBadRequest, pol)
		}
		if errors.Is(err, os.ErrExist) {
			return ErrorResponse(StatusConflict, pol)
		}
		return ErrorResponse(StatusInternalServerError, pol)
	}

	var body bytes.Buffer
	body.WriteString("<html><body><h1>Created</h1><ul>")
	for _, name := range saved {
		body.WriteString("<li>")
		body.WriteString(html.EscapeString(name))
		body.WriteString("</li>")
	}
	body.WriteString("</ul></body></html>\n")
	resp := NewResponse(StatusCreated, defaultContentType, body.Bytes())
	loc := req.URI
	if req.Method != MethodPut {
		loc = strings.TrimSuffix(req.URI, "/") + "/" + saved[0]
	}
	resp.SetHeader(HeaderLocation, loc)
	return resp
}

var errBadUploadName = errors.New("invalid upload file name")

// uploadName strips directories from a client supplied file name.
func uploadName(name string) (string, error) {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == ".." || name == "/" || name == "" || strings.HasPrefix(name, ".") {
		return "", errBadUploadName
	}
	return name, nil
}

func extensionFor(mediaType string) string {
	if mediaType == "" {
		return ""
	}
	exts, err := mime.ExtensionsByType(mediaType)
	if err != nil || len(exts) == 0 {
		return ""
	}
	return exts[0]
}

func writeUpload(p string, data []byte, overwrite bool) error {
	flags := os.O_WRONLY | os.O_CREATE
	if overwrite {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(p, flags, 0o644)
	if err != nil {
		return errors.Wrap(err, "open upload target")
	}
	if _, err = f.Write(data); err != nil {
		_ = f.Close()
		return errors.Wrap(err, "write upload")
	}
	return errors.Wrap(f.Close(), "close upload")
}

func saveMultipart(store string, body []byte, boundary string) ([]string, error) {
	mr := multipart.NewReader(bytes.NewReader(body), boundary)
	var saved []string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return saved, errors.Wrap(err, "read multipart body")
		}
		if part.FileName() == "" {
			_ = part.Close()
			continue
		}
		name, err := uploadName(part.FileName())
		if err != nil {
			_ = part.Close()
			return saved, err
		}
		data, err := io.ReadAll(part)
		_ = part.Close()
		if err != nil {
			return saved, errors.Wrap(err, "read multipart part")
		}
		if err = writeUpload(filepath.Join(store, name), data, true); err != nil {
			return saved, err
		}
		saved = append(saved, name)
	}
	if len(saved) == 0 {
		return nil, errNoUploadedFiles
	}
	return saved, nil
}
