package web

import (
	"KnifeDetServer/codec"
	iface "KnifeDetServer/interface"
	"KnifeDetServer/logger"
	"KnifeDetServer/pipeline"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type DetectionResponse struct {
	Left        string            `json:"left"`
	Center      string            `json:"center"`
	LeftLabel   string            `json:"leftlabel"`
	CenterLabel string            `json:"centerlabel"`
	Degraded    bool              `json:"degraded"`
	Detections  []iface.Detection `json:"detections"`
}

type BatchResponse struct {
	Results        []DetectionResponse `json:"results"`
	TotalProcessed int                 `json:"total_processed"`
	TotalFiles     int                 `json:"total_files"`
}

func newDetectionResponse(res *pipeline.Result) (DetectionResponse, error) {
	left, err := codec.EncodePNGBase64(res.Original)
	if err != nil {
		return DetectionResponse{}, err
	}
	center, err := codec.EncodePNGBase64(res.Annotated)
	if err != nil {
		return DetectionResponse{}, err
	}
	dets := res.Detections
	if dets == nil {
		dets = []iface.Detection{}
	}
	return DetectionResponse{
		Left:        left,
		Center:      center,
		LeftLabel:   "Original",
		CenterLabel: "Processed Image",
		Degraded:    res.Degraded,
		Detections:  dets,
	}, nil
}

func isImage(fh *multipart.FileHeader) bool {
	return strings.HasPrefix(fh.Header.Get("Content-Type"), "image/")
}

func readUpload(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func (s *Server) detectSingle(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		abort(c, http.StatusBadRequest, "No file provided")
		return
	}
	if !isImage(fh) {
		abort(c, http.StatusBadRequest, "Invalid file type. Please upload an image.")
		return
	}
	if s.opts.MaxUploadBytes > 0 && fh.Size > s.opts.MaxUploadBytes {
		abort(c, http.StatusBadRequest, fmt.Sprintf("File size too large. Maximum size is %dMB.", s.opts.MaxUploadBytes>>20))
		return
	}
	data, err := readUpload(fh)
	if err != nil {
		abort(c, http.StatusBadRequest, "Error reading file: "+err.Error())
		return
	}

	res, err := s.pool.Submit(c.Request.Context(), data)
	if err != nil {
		if iface.IsDecodeError(err) || errors.Is(err, iface.ErrEmptyImage) {
			abort(c, http.StatusBadRequest, "Error processing image: "+err.Error())
			return
		}
		logger.Log().Error("single detection failed", zap.String(requestIDKey, requestID(c)), zap.Error(err))
		abort(c, http.StatusInternalServerError, "Internal server error")
		return
	}
	resp, err := newDetectionResponse(res)
	if err != nil {
		logger.Log().Error("encode result", zap.String(requestIDKey, requestID(c)), zap.Error(err))
		abort(c, http.StatusInternalServerError, "Internal server error")
		return
	}
	c.JSON(http.StatusOK, resp)
}

// collectImages returns the image uploads of field "files" and their
// 1-based positions in the request; other content types are skipped.
func (s *Server) collectImages(c *gin.Context, limit int, tooMany string) ([][]byte, []int, int, bool) {
	form, err := c.MultipartForm()
	if err != nil || len(form.File["files"]) == 0 {
		abort(c, http.StatusBadRequest, "No files provided")
		return nil, nil, 0, false
	}
	files := form.File["files"]
	if limit > 0 && len(files) > limit {
		abort(c, http.StatusBadRequest, tooMany)
		return nil, nil, 0, false
	}
	var images [][]byte
	var positions []int
	for i, fh := range files {
		if !isImage(fh) {
			continue
		}
		data, err := readUpload(fh)
		if err != nil {
			logger.Log().Warn("skipping unreadable upload", zap.String(requestIDKey, requestID(c)), zap.String("File", fh.Filename), zap.Error(err))
			continue
		}
		images = append(images, data)
		positions = append(positions, i+1)
	}
	return images, positions, len(files), true
}

func (s *Server) detectBatch(c *gin.Context) {
	images, _, total, ok := s.collectImages(c, s.opts.MaxBatch,
		fmt.Sprintf("Too many files. Maximum is %d images.", s.opts.MaxBatch))
	if !ok {
		return
	}
	batch, err := s.pool.DetectBatch(c.Request.Context(), images, s.opts.MaxBatch)
	if err != nil {
		logger.Log().Error("batch detection failed", zap.String(requestIDKey, requestID(c)), zap.Error(err))
		abort(c, http.StatusInternalServerError, "Internal server error")
		return
	}
	resp := BatchResponse{Results: make([]DetectionResponse, 0, len(batch.Items)), TotalFiles: total}
	for _, item := range batch.Items {
		r, err := newDetectionResponse(item.Result)
		if err != nil {
			logger.Log().Warn("skipping unencodable result", zap.String(requestIDKey, requestID(c)), zap.Error(err))
			continue
		}
		resp.Results = append(resp.Results, r)
	}
	resp.TotalProcessed = len(resp.Results)
	if resp.TotalProcessed == 0 {
		abort(c, http.StatusBadRequest, "No valid image files could be processed")
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) downloadBatch(c *gin.Context) {
	images, positions, _, ok := s.collectImages(c, s.opts.MaxZipBatch,
		fmt.Sprintf("Too many files for ZIP download. Maximum is %d images.", s.opts.MaxZipBatch))
	if !ok {
		return
	}
	batch, err := s.pool.DetectBatch(c.Request.Context(), images, s.opts.MaxZipBatch)
	if err != nil {
		logger.Log().Error("batch detection failed", zap.String(requestIDKey, requestID(c)), zap.Error(err))
		abort(c, http.StatusInternalServerError, "Internal server error")
		return
	}
	if len(batch.Items) == 0 {
		abort(c, http.StatusBadRequest, "No valid images could be processed")
		return
	}
	entries := make([]codec.ArchiveEntry, 0, len(batch.Items))
	for _, item := range batch.Items {
		entries = append(entries, codec.ArchiveEntry{
			Position:  positions[item.Position],
			Original:  item.Result.Original,
			Annotated: item.Result.Annotated,
		})
	}
	data, err := codec.ZipResults(entries)
	if err != nil {
		logger.Log().Error("create zip", zap.String(requestIDKey, requestID(c)), zap.Error(err))
		abort(c, http.StatusInternalServerError, "Error creating ZIP file")
		return
	}
	c.Header("Content-Disposition", "attachment; filename=knife_detection_results.zip")
	c.Data(http.StatusOK, "application/zip", data)
}
