package validator

import (
	"strings"
	"testing"
)

func TestScanPrivateBin(t *testing.T) {
	tests := []struct {
		name string
		page string
		want privateBinPage
	}{
		{
			name: "bootstrap5 with attachments",
			page: `<link rel="stylesheet" href="css/bootstrap5/bootstrap-5.3.3.css" />
<script src="js/privatebin.js?1.7.4" integrity="sha512-x"></script>
<div id="attachment" class="hidden"></div>`,
			want: privateBinPage{version: "1.7.4", attachments: true, template: TemplateBootstrap5},
		},
		{
			name: "bootstrap3 without attachments",
			page: `<link rel="stylesheet" href="css/bootstrap/bootstrap-3.4.1.css" />
<script src="js/privatebin.js?1.4.0"></script>`,
			want: privateBinPage{version: "1.4.0", template: TemplateBootstrap3},
		},
		{
			name: "legacy zerobin alpha",
			page: `<script src="js/zerobin.js?Alpha%200.19"></script>`,
			want: privateBinPage{version: "0.19"},
		},
		{
			name: "legacy zerobin",
			page: `<script src="js/zerobin.js?0.20"></script>`,
			want: privateBinPage{version: "0.20"},
		},
		{
			name: "not a paste service",
			page: "<html><body>Hello</body></html>",
			want: privateBinPage{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := scanPrivateBin(strings.NewReader(tt.page)); got != tt.want {
				t.Errorf("scanPrivateBin() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestScanPrivateBin_MarkerAfterLineCap(t *testing.T) {
	page := strings.Repeat("<!-- padding -->\n", 2000) + `<script src="js/privatebin.js?1.7.4"></script>`
	if got := scanPrivateBin(strings.NewReader(page)); got.version != "" {
		t.Errorf("version = %q, markers past the line cap must not be seen", got.version)
	}
}

func TestScanPrivateBin_LongLineWithMultibyteRune(t *testing.T) {
	page := "<html>\n" + strings.Repeat("a", 65535) + "é\n" + `<script src="js/privatebin.js?1.7.1"></script>`
	if got := scanPrivateBin(strings.NewReader(page)); got.version != "1.7.1" {
		t.Errorf("version = %q, want %q", got.version, "1.7.1")
	}
}
