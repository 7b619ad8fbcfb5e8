// Пакет archive — работа с ZIP-контейнерами клиентских документов:
// индексация по центральному каталогу, фильтрация и поэлементное
// извлечение. Пакет не знает про HTTP и про отображение — только
// контейнер и его записи.
package archive

import (
	"path"
	"strings"
)

// DocKind — категория документа, выведенная из расширения имени файла.
// Определяет способ предпросмотра (internal/preview).
type DocKind string

const (
	KindText       DocKind = "text"
	KindPDF        DocKind = "pdf"
	KindImage      DocKind = "image"
	KindWord       DocKind = "word"
	KindExcel      DocKind = "excel"
	KindPowerPoint DocKind = "powerpoint"
	KindAudio      DocKind = "audio"
	KindVideo      DocKind = "video"
	KindZip        DocKind = "zip"
	// KindOther — неизвестное или отсутствующее расширение.
	KindOther DocKind = "other"
)

// kindByExt — соответствие расширения категории документа.
// Ключи — в нижнем регистре, без точки.
var kindByExt = map[string]DocKind{
	"txt":  KindText,
	"md":   KindText,
	"csv":  KindText,
	"log":  KindText,
	"json": KindText,
	"xml":  KindText,

	"pdf": KindPDF,

	"png":  KindImage,
	"jpg":  KindImage,
	"jpeg": KindImage,
	"gif":  KindImage,
	"bmp":  KindImage,
	"webp": KindImage,
	"svg":  KindImage,

	"doc":  KindWord,
	"docx": KindWord,
	"odt":  KindWord,
	"rtf":  KindWord,
	"xls":  KindExcel,
	"xlsx": KindExcel,
	"ods":  KindExcel,
	"ppt":  KindPowerPoint,
	"pptx": KindPowerPoint,
	"odp":  KindPowerPoint,

	"mp3":  KindAudio,
	"wav":  KindAudio,
	"ogg":  KindAudio,
	"flac": KindAudio,
	"m4a":  KindAudio,

	"mp4":  KindVideo,
	"webm": KindVideo,
	"mkv":  KindVideo,
	"avi":  KindVideo,
	"mov":  KindVideo,

	"zip": KindZip,
	"rar": KindZip,
	"7z":  KindZip,
	"tar": KindZip,
	"gz":  KindZip,
}

// mimeByExt — MIME-типы для отдачи содержимого записи.
// Для расширений вне списка используется application/octet-stream.
var mimeByExt = map[string]string{
	"txt":  "text/plain; charset=utf-8",
	"md":   "text/markdown; charset=utf-8",
	"csv":  "text/csv; charset=utf-8",
	"log":  "text/plain; charset=utf-8",
	"json": "application/json",
	"xml":  "application/xml",

	"pdf": "application/pdf",

	"png":  "image/png",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"gif":  "image/gif",
	"bmp":  "image/bmp",
	"webp": "image/webp",
	"svg":  "image/svg+xml",

	"doc":  "application/msword",
	"docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"xls":  "application/vnd.ms-excel",
	"xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"ppt":  "application/vnd.ms-powerpoint",
	"pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	"odt":  "application/vnd.oasis.opendocument.text",
	"ods":  "application/vnd.oasis.opendocument.spreadsheet",
	"rtf":  "application/rtf",

	"mp3":  "audio/mpeg",
	"wav":  "audio/wav",
	"ogg":  "audio/ogg",
	"flac": "audio/flac",
	"m4a":  "audio/mp4",

	"mp4":  "video/mp4",
	"webm": "video/webm",
	"mkv":  "video/x-matroska",
	"avi":  "video/x-msvideo",
	"mov":  "video/quicktime",

	"zip": "application/zip",
	"rar": "application/vnd.rar",
	"7z":  "application/x-7z-compressed",
	"tar": "application/x-tar",
	"gz":  "application/gzip",
}

// extOf возвращает расширение имени файла в нижнем регистре без точки.
func extOf(name string) string {
	ext := path.Ext(name)
	if ext == "" {
		return ""
	}
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// KindFromName выводит категорию документа из имени файла.
// Регистр расширения не учитывается; имя без расширения — KindOther.
func KindFromName(name string) DocKind {
	if k, ok := kindByExt[extOf(name)]; ok {
		return k
	}
	return KindOther
}

// MIMEFromName возвращает MIME-тип содержимого по имени файла.
func MIMEFromName(name string) string {
	if m, ok := mimeByExt[extOf(name)]; ok {
		return m
	}
	return "application/octet-stream"
}
