// index.go — индексация ZIP-контейнера по центральному каталогу.
// При открытии читаются только метаданные записей (имя, размер,
// категория); содержимое распаковывается поэлементно по запросу.
package archive

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/gobwas/glob"
)

// Entry — запись индекса: метаданные одного документа контейнера.
type Entry struct {
	// Name — полное имя записи внутри контейнера
	Name string `json:"name"`
	// Size — несжатый размер в байтах
	Size uint64 `json:"size"`
	// Kind — категория документа по расширению
	Kind DocKind `json:"kind"`
}

// Archive — проиндексированный ZIP-контейнер.
// Degraded = true означает индекс, построенный из внешнего списка
// имён (центральный каталог недоступен): размеры неизвестны,
// извлечение невозможно.
type Archive struct {
	entries  []Entry
	byName   map[string]int
	files    map[string]*zip.File
	degraded bool
}

// Open индексирует ZIP-контейнер из блоба. Читается только
// центральный каталог; записи-каталоги (с завершающим "/")
// в индекс не попадают.
func Open(blob []byte) (*Archive, error) {
	zr, err := zip.NewReader(bytes.NewReader(blob), int64(len(blob)))
	if err != nil {
		return nil, fmt.Errorf("чтение центрального каталога: %w", err)
	}

	a := &Archive{
		byName: make(map[string]int),
		files:  make(map[string]*zip.File),
	}

	for _, f := range zr.File {
		if strings.HasSuffix(f.Name, "/") {
			continue
		}
		a.byName[f.Name] = len(a.entries)
		a.files[f.Name] = f
		a.entries = append(a.entries, Entry{
			Name: f.Name,
			Size: f.UncompressedSize64,
			Kind: KindFromName(f.Name),
		})
	}

	return a, nil
}

// OpenFallback строит деградированный индекс из внешнего списка имён
// документов. Размеры записей неизвестны (0), извлечение недоступно.
func OpenFallback(names []string) *Archive {
	a := &Archive{
		byName:   make(map[string]int, len(names)),
		degraded: true,
	}

	for _, name := range names {
		if name == "" || strings.HasSuffix(name, "/") {
			continue
		}
		if _, dup := a.byName[name]; dup {
			continue
		}
		a.byName[name] = len(a.entries)
		a.entries = append(a.entries, Entry{
			Name: name,
			Kind: KindFromName(name),
		})
	}

	return a
}

// Degraded сообщает, построен ли индекс без центрального каталога.
func (a *Archive) Degraded() bool {
	return a.degraded
}

// Len возвращает количество записей индекса.
func (a *Archive) Len() int {
	return len(a.entries)
}

// Entries возвращает записи индекса, отсортированные по имени.
func (a *Archive) Entries() []Entry {
	out := make([]Entry, len(a.entries))
	copy(out, a.entries)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Lookup возвращает запись по полному имени.
func (a *Archive) Lookup(name string) (Entry, bool) {
	i, ok := a.byName[name]
	if !ok {
		return Entry{}, false
	}
	return a.entries[i], true
}

// Filter возвращает записи, чьё базовое имя соответствует
// glob-шаблону (без учёта регистра). Невалидный шаблон — ошибка.
func (a *Archive) Filter(pattern string) ([]Entry, error) {
	g, err := glob.Compile(strings.ToLower(pattern))
	if err != nil {
		return nil, fmt.Errorf("некорректный glob-шаблон %q: %w", pattern, err)
	}

	var out []Entry
	for _, e := range a.Entries() {
		if g.Match(strings.ToLower(path.Base(e.Name))) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Extract распаковывает одну запись по имени. Ошибка извлечения
// изолирована: повреждённая запись не мешает работе с остальными.
// Для деградированного индекса извлечение недоступно.
func (a *Archive) Extract(name string) ([]byte, error) {
	if a.degraded {
		return nil, fmt.Errorf("извлечение %q недоступно: индекс построен без содержимого контейнера", name)
	}

	f, ok := a.files[name]
	if !ok {
		return nil, fmt.Errorf("запись %q не найдена в контейнере", name)
	}

	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("открытие записи %q: %w", name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("распаковка записи %q: %w", name, err)
	}

	return data, nil
}
