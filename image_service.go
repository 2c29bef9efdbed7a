package accounts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif" // register gif
	"image/jpeg"
	_ "image/png" // register png
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"golang.org/x/image/draw"
)

// ProfileImageBucket is the bucket profile pictures are uploaded to
const ProfileImageBucket = "profile-images"

const (
	defaultMaxImageDimension = 512
	defaultImageQuality      = 85
	defaultMaxImageBytes     = 5 << 20
)

var bucketPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// ImageFile is an uploaded file handle
type ImageFile struct {
	Filename string
	Size     int64
	Open     func() (io.ReadCloser, error)
}

// LocalImageStore decodes uploaded images, downsizes them and stores them
// as JPEG files under baseDir/<bucket>/.
type LocalImageStore struct {
	baseDir      string
	maxDimension int
	quality      int
	maxBytes     int64
	logger       Logger
}

var _ ImageUploader = (*LocalImageStore)(nil)

// ImageStoreOption configures a LocalImageStore
type ImageStoreOption func(*LocalImageStore)

// WithMaxImageDimension caps the longest edge of stored images
func WithMaxImageDimension(px int) ImageStoreOption {
	return func(s *LocalImageStore) {
		if px > 0 {
			s.maxDimension = px
		}
	}
}

// WithImageQuality sets the JPEG quality (1-100)
func WithImageQuality(quality int) ImageStoreOption {
	return func(s *LocalImageStore) {
		if quality >= 1 && quality <= 100 {
			s.quality = quality
		}
	}
}

// WithMaxImageBytes limits the accepted upload size
func WithMaxImageBytes(n int64) ImageStoreOption {
	return func(s *LocalImageStore) {
		if n > 0 {
			s.maxBytes = n
		}
	}
}

// WithImageLogger sets the logger
func WithImageLogger(logger Logger) ImageStoreOption {
	return func(s *LocalImageStore) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewLocalImageStore creates a store rooted at baseDir
func NewLocalImageStore(baseDir string, opts ...ImageStoreOption) *LocalImageStore {
	s := &LocalImageStore{
		baseDir:      baseDir,
		maxDimension: defaultMaxImageDimension,
		quality:      defaultImageQuality,
		maxBytes:     defaultMaxImageBytes,
		logger:       defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// UploadImage stores file in bucket and returns its path relative to the
// store root, e.g. profile-images/<uuid>.jpg
func (s *LocalImageStore) UploadImage(ctx context.Context, file ImageFile, bucket string) (string, error) {
	if !bucketPattern.MatchString(bucket) {
		return "", goerrors.New("invalid image bucket", goerrors.CategoryInternal).
			WithMetadata(map[string]any{"bucket": bucket})
	}

	if file.Open == nil {
		return "", NewValidationError(fmt.Errorf("no file provided"), "invalid profile image")
	}

	if file.Size > s.maxBytes {
		return "", s.tooLarge(file)
	}

	src, err := file.Open()
	if err != nil {
		return "", NewDependencyFailure(err, "unable to open uploaded image")
	}
	defer src.Close()

	raw, err := io.ReadAll(io.LimitReader(src, s.maxBytes+1))
	if err != nil {
		return "", NewDependencyFailure(err, "unable to read uploaded image")
	}
	if int64(len(raw)) > s.maxBytes {
		return "", s.tooLarge(file)
	}

	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return "", NewValidationError(fmt.Errorf("file is not a supported image"), "invalid profile image")
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	resized := s.resize(img)

	dir := filepath.Join(s.baseDir, bucket)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", NewDependencyFailure(err, "unable to create image bucket", map[string]any{"bucket": bucket})
	}

	name := uuid.NewString() + ".jpg"
	target := filepath.Join(dir, name)

	out, err := os.Create(target)
	if err != nil {
		return "", NewDependencyFailure(err, "unable to create image file")
	}

	if err := jpeg.Encode(out, resized, &jpeg.Options{Quality: s.quality}); err != nil {
		out.Close()
		os.Remove(target)
		return "", NewDependencyFailure(err, "unable to encode image")
	}

	if err := out.Close(); err != nil {
		os.Remove(target)
		return "", NewDependencyFailure(err, "unable to write image file")
	}

	s.logger.Debug("stored profile image",
		"bucket", bucket,
		"name", name,
		"source_format", format,
		"source_size", fmt.Sprintf("%dx%d", img.Bounds().Dx(), img.Bounds().Dy()),
	)

	return path.Join(bucket, name), nil
}

// RemoveImage deletes an image previously returned by UploadImage. Missing
// files are not an error.
func (s *LocalImageStore) RemoveImage(ctx context.Context, ref string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	clean := path.Clean(ref)
	bucket, name := path.Split(clean)
	bucket = strings.TrimSuffix(bucket, "/")
	if !bucketPattern.MatchString(bucket) || name == "" || strings.Contains(bucket, "/") {
		return goerrors.New("invalid image reference", goerrors.CategoryInternal).
			WithMetadata(map[string]any{"ref": ref})
	}

	target := filepath.Join(s.baseDir, bucket, name)
	if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return NewDependencyFailure(err, "unable to remove image file", map[string]any{"ref": ref})
	}

	s.logger.Debug("removed profile image", "bucket", bucket, "name", name)
	return nil
}

// resize scales img so its longest edge fits maxDimension, keeping the
// aspect ratio. Smaller images are returned as is.
func (s *LocalImageStore) resize(img image.Image) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= s.maxDimension && h <= s.maxDimension {
		return img
	}

	nw, nh := s.maxDimension, s.maxDimension
	if w > h {
		nh = max(1, h*s.maxDimension/w)
	} else {
		nw = max(1, w*s.maxDimension/h)
	}

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}

func (s *LocalImageStore) tooLarge(file ImageFile) error {
	return goerrors.New("profile image is too large", goerrors.CategoryValidation).
		WithTextCode(TextCodeValidation).
		WithCode(goerrors.CodeBadRequest).
		WithMetadata(map[string]any{
			"filename":  file.Filename,
			"max_bytes": s.maxBytes,
		})
}
