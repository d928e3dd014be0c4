package ocr

import (
	"strconv"
	"strings"

	"github.com/docfold/docfold/model"
)

// tesseract TSV columns
const (
	tsvLevel = 0
	tsvLine  = 4
	tsvLeft  = 6
	tsvTop   = 7
	tsvWidth = 8
	tsvHght  = 9
	tsvConf  = 10
	tsvText  = 11
	tsvCols  = 12

	wordLevel = 5
)

// ParseTSV converts tesseract's TSV output for one page into an OCR
// page. Word confidences come back as 0-100 and are normalized to 0-1;
// rows with negative confidence are layout markers and are skipped.
func ParseTSV(pageIndex int, data []byte) model.OCRPage {
	page := model.OCRPage{Index: pageIndex}

	var text strings.Builder
	var confSum float64
	var confCount int
	lastLine := -1

	for i, row := range strings.Split(string(data), "\n") {
		if i == 0 {
			continue // header
		}
		cols := strings.Split(row, "\t")
		if len(cols) < tsvCols {
			continue
		}
		level, err := strconv.Atoi(cols[tsvLevel])
		if err != nil || level != wordLevel {
			continue
		}
		conf, err := strconv.ParseFloat(cols[tsvConf], 64)
		if err != nil || conf < 0 {
			continue
		}
		word := strings.TrimSpace(cols[tsvText])
		if word == "" {
			continue
		}

		line, _ := strconv.Atoi(cols[tsvLine])
		if text.Len() > 0 {
			if line != lastLine {
				text.WriteString("\n")
			} else {
				text.WriteString(" ")
			}
		}
		lastLine = line
		text.WriteString(word)

		x, _ := strconv.Atoi(cols[tsvLeft])
		y, _ := strconv.Atoi(cols[tsvTop])
		w, _ := strconv.Atoi(cols[tsvWidth])
		h, _ := strconv.Atoi(cols[tsvHght])
		page.Boxes = append(page.Boxes, model.OCRBox{
			Text:       word,
			Confidence: conf / 100,
			X:          x,
			Y:          y,
			W:          w,
			H:          h,
		})
		confSum += conf / 100
		confCount++
	}

	page.Text = text.String()
	if confCount > 0 {
		page.AvgConfidence = confSum / float64(confCount)
	}
	return page
}
