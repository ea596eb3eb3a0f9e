package domain

// imageMimeTypes lists the image formats handed to vision models as-is.
var imageMimeTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".tiff": "image/tiff",
	".tif":  "image/tiff",
	".bmp":  "image/bmp",
}

// ImageMimeType maps a canonical image extension to its MIME type.
func ImageMimeType(ext string) (string, bool) {
	m, ok := imageMimeTypes[ext]
	return m, ok
}
