// render.go — построение описателя отрисовки по категории документа.
// Описатель говорит фронтенду, КАК показать запись: встроить по URL
// дескриптора, вывести текст как есть, или ограничиться действиями
// (скачать, открыть во внешнем просмотрщике).
package preview

import (
	"bytes"
	"image"
	"unicode/utf8"

	// Регистрация декодеров для проверки растровых изображений.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/bigkaa/gostaffdesk/dashboard-module/internal/archive"
)

// Режимы отрисовки.
const (
	// ModeEmbed — встраивание по URL дескриптора (PDF).
	ModeEmbed = "embed"
	// ModeImage — изображение по URL дескриптора.
	ModeImage = "image"
	// ModeText — текст, переданный в описателе как есть.
	ModeText = "text"
	// ModeMedia — аудио/видео-элемент по URL дескриптора.
	ModeMedia = "media"
	// ModeIcon — иконка категории вместо содержимого.
	ModeIcon = "icon"
	// ModeError — извлечение не удалось.
	ModeError = "error"
)

// Действия, доступные пользователю в предпросмотре.
const (
	ActionDownload       = "download"
	ActionExternalViewer = "external_viewer"
	ActionOpenNewTab     = "open_new_tab"
)

// Descriptor — описатель отрисовки одной записи.
type Descriptor struct {
	// Name — имя записи в контейнере
	Name string `json:"name"`
	// Kind — категория документа
	Kind archive.DocKind `json:"kind"`
	// Mode — режим отрисовки
	Mode string `json:"mode"`
	// MIME — тип содержимого дескриптора
	MIME string `json:"mime,omitempty"`
	// HandleToken — токен временного дескриптора (если выделен)
	HandleToken string `json:"handle_token,omitempty"`
	// Text — содержимое для ModeText
	Text string `json:"text,omitempty"`
	// Actions — доступные действия
	Actions []string `json:"actions,omitempty"`
	// Error — описание ошибки для ModeError
	Error string `json:"error,omitempty"`
}

// buildDescriptor строит описатель отрисовки для извлечённой записи,
// при необходимости выделяя временный дескриптор в store.
//
// Диспетчеризация по категории:
//   - pdf → встраивание, явный MIME application/pdf;
//   - image → изображение; нераспознаваемый растр → иконка + скачать;
//   - text → текст как есть; невалидный UTF-8 → только скачать;
//   - word/excel/powerpoint → скачать + внешний просмотрщик
//     (дескриптор выделяется: внешнему просмотрщику нужен URL);
//   - audio/video → медиа-элемент;
//   - zip/other → скачать + открыть в новой вкладке.
func buildDescriptor(store *Store, name string, kind archive.DocKind, data []byte) Descriptor {
	d := Descriptor{
		Name: name,
		Kind: kind,
	}

	switch kind {
	case archive.KindPDF:
		h := store.Create(name, "application/pdf", data)
		d.Mode = ModeEmbed
		d.MIME = h.MIME
		d.HandleToken = h.Token
		d.Actions = []string{ActionDownload}

	case archive.KindImage:
		if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil {
			// Формат не распознан декодерами — иконка вместо картинки
			d.Mode = ModeIcon
			d.Actions = []string{ActionDownload}
			return d
		}
		h := store.Create(name, archive.MIMEFromName(name), data)
		d.Mode = ModeImage
		d.MIME = h.MIME
		d.HandleToken = h.Token
		d.Actions = []string{ActionDownload}

	case archive.KindText:
		if !utf8.Valid(data) {
			d.Mode = ModeIcon
			d.Actions = []string{ActionDownload}
			return d
		}
		d.Mode = ModeText
		d.MIME = archive.MIMEFromName(name)
		d.Text = string(data)
		d.Actions = []string{ActionDownload}

	case archive.KindWord, archive.KindExcel, archive.KindPowerPoint:
		h := store.Create(name, archive.MIMEFromName(name), data)
		d.Mode = ModeIcon
		d.MIME = h.MIME
		d.HandleToken = h.Token
		d.Actions = []string{ActionDownload, ActionExternalViewer}

	case archive.KindAudio, archive.KindVideo:
		h := store.Create(name, archive.MIMEFromName(name), data)
		d.Mode = ModeMedia
		d.MIME = h.MIME
		d.HandleToken = h.Token
		d.Actions = []string{ActionDownload}

	default: // zip, other
		h := store.Create(name, archive.MIMEFromName(name), data)
		d.Mode = ModeIcon
		d.MIME = h.MIME
		d.HandleToken = h.Token
		d.Actions = []string{ActionDownload, ActionOpenNewTab}
	}

	return d
}

// errorDescriptor строит описатель для записи, извлечение которой
// не удалось. Индекс остаётся валидным, пользователю доступно
// скачивание напрямую.
func errorDescriptor(name string, kind archive.DocKind, err error) Descriptor {
	return Descriptor{
		Name:    name,
		Kind:    kind,
		Mode:    ModeError,
		Error:   err.Error(),
		Actions: []string{ActionDownload},
	}
}
