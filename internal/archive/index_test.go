package archive

import (
	"archive/zip"
	"bytes"
	"testing"
)

// buildZip собирает ZIP-блоб из карты имя → содержимое.
// Имена с завершающим "/" создают записи-каталоги.
func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("создание записи %q: %v", name, err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("запись %q: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("закрытие архива: %v", err)
	}
	return buf.Bytes()
}

// TestOpen_Index проверяет полноту индекса и пропуск каталогов.
func TestOpen_Index(t *testing.T) {
	blob := buildZip(t, map[string]string{
		"resume.pdf":          "%PDF-1.4 fake",
		"docs/":               "",
		"docs/contract.docx":  "fake docx",
		"docs/photo.JPG":      "fake jpeg",
		"notes":               "plain notes",
	})

	a, err := Open(blob)
	if err != nil {
		t.Fatalf("Open ошибка: %v", err)
	}

	if a.Len() != 4 {
		t.Fatalf("записей в индексе = %d, ожидалось 4 (каталог не считается)", a.Len())
	}
	if a.Degraded() {
		t.Error("Degraded() = true для полного индекса")
	}

	entries := a.Entries()
	// Entries отсортированы по имени
	for i := 1; i < len(entries); i++ {
		if entries[i-1].Name > entries[i].Name {
			t.Errorf("записи не отсортированы: %q после %q", entries[i].Name, entries[i-1].Name)
		}
	}

	e, ok := a.Lookup("docs/contract.docx")
	if !ok {
		t.Fatal("Lookup не нашёл docs/contract.docx")
	}
	if e.Size != uint64(len("fake docx")) {
		t.Errorf("Size = %d, ожидался %d", e.Size, len("fake docx"))
	}

	if _, ok := a.Lookup("docs/"); ok {
		t.Error("Lookup нашёл запись-каталог, ожидался пропуск")
	}
}

// TestKindInference проверяет вывод категории из расширения
// без учёта регистра.
func TestKindInference(t *testing.T) {
	tests := []struct {
		name string
		want DocKind
	}{
		{"report.XLSX", KindExcel},
		{"contract.docx", KindWord},
		{"pitch.PPTX", KindPowerPoint},
		{"photo.JPG", KindImage},
		{"resume.pdf", KindPDF},
		{"readme.txt", KindText},
		{"intro.Mp4", KindVideo},
		{"voice.mp3", KindAudio},
		{"backup.zip", KindZip},
		{"notes", KindOther},
		{"weird.xyz", KindOther},
		{"archive.tar.gz", KindZip},
	}

	for _, tt := range tests {
		if got := KindFromName(tt.name); got != tt.want {
			t.Errorf("KindFromName(%q) = %q, ожидался %q", tt.name, got, tt.want)
		}
	}
}

// TestMIMEFromName проверяет MIME-типы и fallback для неизвестных.
func TestMIMEFromName(t *testing.T) {
	if got := MIMEFromName("resume.PDF"); got != "application/pdf" {
		t.Errorf("MIMEFromName(resume.PDF) = %q, ожидался application/pdf", got)
	}
	if got := MIMEFromName("data.bin"); got != "application/octet-stream" {
		t.Errorf("MIMEFromName(data.bin) = %q, ожидался octet-stream", got)
	}
}

// TestExtract проверяет поэлементное извлечение и изоляцию ошибок.
func TestExtract(t *testing.T) {
	blob := buildZip(t, map[string]string{
		"a.txt": "содержимое A",
		"b.txt": "содержимое B",
	})

	a, err := Open(blob)
	if err != nil {
		t.Fatalf("Open ошибка: %v", err)
	}

	data, err := a.Extract("a.txt")
	if err != nil {
		t.Fatalf("Extract(a.txt) ошибка: %v", err)
	}
	if string(data) != "содержимое A" {
		t.Errorf("содержимое = %q, ожидалось %q", data, "содержимое A")
	}

	if _, err := a.Extract("missing.txt"); err == nil {
		t.Error("Extract несуществующей записи: ожидалась ошибка")
	}

	// Ошибка одной записи не мешает извлечению другой
	data, err = a.Extract("b.txt")
	if err != nil {
		t.Fatalf("Extract(b.txt) после ошибки: %v", err)
	}
	if string(data) != "содержимое B" {
		t.Errorf("содержимое = %q, ожидалось %q", data, "содержимое B")
	}
}

// TestExtract_CorruptedEntry проверяет изоляцию повреждённой записи:
// индекс строится, извлечение битой записи возвращает ошибку,
// соседняя запись извлекается без потерь.
func TestExtract_CorruptedEntry(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	// Запись без сжатия — её байты лежат в блобе как есть,
	// порча одного байта даёт расхождение CRC при извлечении
	w, err := zw.CreateHeader(&zip.FileHeader{Name: "damaged.txt", Method: zip.Store})
	if err != nil {
		t.Fatalf("создание записи damaged.txt: %v", err)
	}
	const marker = "MARKER-PAYLOAD-0123456789"
	if _, err := w.Write([]byte(marker)); err != nil {
		t.Fatalf("запись damaged.txt: %v", err)
	}

	w, err = zw.Create("intact.txt")
	if err != nil {
		t.Fatalf("создание записи intact.txt: %v", err)
	}
	if _, err := w.Write([]byte("целое содержимое")); err != nil {
		t.Fatalf("запись intact.txt: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("закрытие архива: %v", err)
	}

	blob := buf.Bytes()
	pos := bytes.Index(blob, []byte(marker))
	if pos < 0 {
		t.Fatal("содержимое записи не найдено в блобе")
	}
	blob[pos] ^= 0xFF

	a, err := Open(blob)
	if err != nil {
		t.Fatalf("Open ошибка: %v", err)
	}
	if a.Len() != 2 {
		t.Fatalf("записей в индексе = %d, ожидалось 2", a.Len())
	}

	if _, err := a.Extract("damaged.txt"); err == nil {
		t.Error("Extract повреждённой записи: ожидалась ошибка")
	}

	data, err := a.Extract("intact.txt")
	if err != nil {
		t.Fatalf("Extract(intact.txt) после повреждённой: %v", err)
	}
	if string(data) != "целое содержимое" {
		t.Errorf("содержимое = %q, ожидалось неизменным", data)
	}
}

// TestFilter проверяет glob-фильтрацию по базовому имени.
func TestFilter(t *testing.T) {
	blob := buildZip(t, map[string]string{
		"resume.pdf":        "x",
		"docs/contract.pdf": "x",
		"docs/photo.jpg":    "x",
	})

	a, err := Open(blob)
	if err != nil {
		t.Fatalf("Open ошибка: %v", err)
	}

	got, err := a.Filter("*.pdf")
	if err != nil {
		t.Fatalf("Filter ошибка: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("записей по *.pdf = %d, ожидалось 2", len(got))
	}

	// Без учёта регистра
	got, err = a.Filter("*.PDF")
	if err != nil {
		t.Fatalf("Filter ошибка: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("записей по *.PDF = %d, ожидалось 2", len(got))
	}

	if _, err := a.Filter("[invalid"); err == nil {
		t.Error("ожидалась ошибка для невалидного шаблона")
	}
}

// TestOpenFallback проверяет деградированный индекс из списка имён.
func TestOpenFallback(t *testing.T) {
	a := OpenFallback([]string{"resume.pdf", "photo.jpg", "", "docs/", "resume.pdf"})

	if !a.Degraded() {
		t.Error("Degraded() = false для fallback-индекса")
	}
	if a.Len() != 2 {
		t.Fatalf("записей = %d, ожидалось 2 (пустые, каталоги и дубликаты отброшены)", a.Len())
	}

	e, ok := a.Lookup("resume.pdf")
	if !ok {
		t.Fatal("Lookup не нашёл resume.pdf")
	}
	if e.Kind != KindPDF {
		t.Errorf("Kind = %q, ожидался pdf", e.Kind)
	}
	if e.Size != 0 {
		t.Errorf("Size = %d, ожидался 0 (размер неизвестен)", e.Size)
	}

	if _, err := a.Extract("resume.pdf"); err == nil {
		t.Error("Extract в деградированном индексе: ожидалась ошибка")
	}
}

// TestOpen_NotZip проверяет ошибку для блоба без центрального каталога.
func TestOpen_NotZip(t *testing.T) {
	if _, err := Open([]byte("definitely not a zip")); err == nil {
		t.Error("Open невалидного блоба: ожидалась ошибка")
	}
}
