package classify

import (
	"strings"

	"github.com/siteinventory/spdash/internal/model"
)

// maxExtensionLen rejects long tails such as "aspx?web=1&id=..." that survive
// the split but are not real extensions.
const maxExtensionLen = 10

var categories = map[string]model.ContentCategory{
	"doc": model.CategoryBusiness, "docx": model.CategoryBusiness, "pdf": model.CategoryBusiness,
	"xlsx": model.CategoryBusiness, "xls": model.CategoryBusiness, "ppt": model.CategoryBusiness,
	"pptx": model.CategoryBusiness, "folder": model.CategoryBusiness,

	"aspx": model.CategorySystem, "odc": model.CategorySystem, "n/a": model.CategorySystem,
	"unknown": model.CategorySystem, "": model.CategorySystem,

	"jpg": model.CategoryMedia, "jpeg": model.CategoryMedia, "png": model.CategoryMedia,
	"gif": model.CategoryMedia, "mp4": model.CategoryMedia, "mp3": model.CategoryMedia,
	"wav": model.CategoryMedia, "mov": model.CategoryMedia,
}

// Category maps a file extension to its content category.
func Category(ext string) model.ContentCategory {
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	if c, ok := categories[ext]; ok {
		return c
	}
	return model.CategoryOther
}

// Extension returns the normalized extension of a row. A non-empty file-type
// column wins; otherwise the extension is cut from the file name or URL.
func Extension(row model.Row, roles model.Roles) string {
	ext := strings.TrimSpace(row.Get(roles.FileType))
	if ext == "" {
		ext = extensionFromName(row.Get(roles.FileName))
	}
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	if ext == "" || len(ext) >= maxExtensionLen {
		return model.UnknownExtension
	}
	return ext
}

func extensionFromName(name string) string {
	if name == "" {
		return ""
	}
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	i := strings.LastIndex(name, ".")
	if i < 0 {
		return ""
	}
	ext := name[i+1:]
	if j := strings.IndexAny(ext, "?#"); j >= 0 {
		ext = ext[:j]
	}
	return ext
}
