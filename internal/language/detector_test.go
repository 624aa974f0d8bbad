package language

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetect(t *testing.T) {
	d := New(Vietnamese, 0)

	tests := []struct {
		name string
		text string
		want Tag
	}{
		{"vietnamese", "Tôi không tìm thấy thông tin này trong tài liệu", Vietnamese},
		{"vietnamese note", "Quang hợp là quá trình cây xanh sử dụng ánh sáng để tổng hợp chất hữu cơ.", Vietnamese},
		{"english", "The quick brown fox jumps over the lazy dog.", English},
		{"korean", "안녕하세요 저는 학생입니다", Korean},
		{"japanese", "これは日本語のテストです", Japanese},
		{"chinese", "这是一个中文句子", Chinese},
		{"empty", "", Vietnamese},
		{"digits only", "12345 !!! 678", Vietnamese},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, d.Detect(tt.text))
		})
	}
}

func TestDetect_TieUsesFallback(t *testing.T) {
	// "hello" is plain Latin, "bạn" carries a Vietnamese tone mark.
	assert.Equal(t, English, New(English, 0).Detect("hello bạn"))
	assert.Equal(t, Vietnamese, New(Vietnamese, 0).Detect("hello bạn"))
}

func TestDetect_Loanwords(t *testing.T) {
	d := New(Vietnamese, 0)

	// Accented loanwords alone never make text Vietnamese.
	assert.Equal(t, English, d.Detect("Send your résumé to the café manager"))
	assert.Equal(t, 0, d.Count("résumé café")[Vietnamese])

	// The same accents count once the sample is clearly Vietnamese.
	counts := d.Count("cà phê sữa đá")
	assert.Equal(t, 4, counts[Vietnamese])
	assert.Equal(t, Vietnamese, d.Detect("là và có của"))
}

func TestDetect_SampleIsBounded(t *testing.T) {
	text := strings.Repeat("hello world ", 20) + strings.Repeat("tiếng việt có dấu ", 50)

	assert.Equal(t, English, New(Vietnamese, 100).Detect(text))
	assert.Equal(t, Vietnamese, New(English, len([]rune(text))).Detect(text))
}

func TestNew_Defaults(t *testing.T) {
	d := New("xx", -1)
	assert.Equal(t, Vietnamese, d.Fallback())
	assert.Equal(t, DefaultSampleSize, d.sampleSize)
}

func TestParse(t *testing.T) {
	tag, ok := Parse(" EN ")
	assert.True(t, ok)
	assert.Equal(t, English, tag)
	assert.Equal(t, "English", tag.Name())

	_, ok = Parse("klingon")
	assert.False(t, ok)
}
