package parser

import (
	"accrualsync/internal/model"
)

// SheetRecognizer 在 Sheet 顶部若干行中寻找表头行
type SheetRecognizer struct {
	mapper   *FieldMapper
	policies *model.PolicyTable
	scanRows int
}

// NewSheetRecognizer 创建识别器；scanRows<=0 时扫描前 15 行
func NewSheetRecognizer(policies *model.PolicyTable, scanRows int) *SheetRecognizer {
	if scanRows <= 0 {
		scanRows = 15
	}
	return &SheetRecognizer{
		mapper:   NewFieldMapper(policies),
		policies: policies,
		scanRows: scanRows,
	}
}

// Recognize 识别薪资表：选命中身份字段最多、其次命中字段最多的行作为表头
func (r *SheetRecognizer) Recognize(sheetName string, rows [][]string) SheetRecognitionResult {
	best := SheetRecognitionResult{SheetName: sheetName, SheetType: SheetTypeUnknown}
	bestIdentity := 0

	limit := min(r.scanRows, len(rows))
	for i := 0; i < limit; i++ {
		if IsBlankRow(rows[i]) {
			continue
		}
		mappings := r.mapper.Map(rows[i])
		if len(mappings) == 0 {
			continue
		}
		identity := r.countIdentity(mappings)
		if identity > bestIdentity || (identity == bestIdentity && len(mappings) > len(best.Mappings)) {
			best.HeaderRow = i + 1
			best.Mappings = mappings
			bestIdentity = identity
		}
	}

	if best.HeaderRow == 0 {
		best.Missing = r.identityNames()
		return best
	}
	best.Confidence = float64(len(Primary(best.Mappings))) / float64(len(r.policies.Fields()))
	best.Missing = r.missingIdentity(best.Mappings)
	if bestIdentity > 0 {
		best.SheetType = SheetTypePaysheet
	}
	return best
}

// RecognizeAt 按固定表头行识别（主台账）
func (r *SheetRecognizer) RecognizeAt(sheetName string, rows [][]string, headerRow int) SheetRecognitionResult {
	res := SheetRecognitionResult{SheetName: sheetName, SheetType: SheetTypeUnknown, HeaderRow: headerRow}
	if headerRow < 1 || headerRow > len(rows) {
		res.Missing = r.identityNames()
		return res
	}
	res.Mappings = r.mapper.Map(rows[headerRow-1])
	res.Confidence = float64(len(Primary(res.Mappings))) / float64(len(r.policies.Fields()))
	res.Missing = r.missingIdentity(res.Mappings)
	if len(res.Missing) == 0 {
		res.SheetType = SheetTypeMaster
	}
	return res
}

func (r *SheetRecognizer) countIdentity(mappings map[int]FieldMapping) int {
	n := 0
	for _, f := range r.policies.Identity() {
		for _, m := range mappings {
			if m.Field == f.Name {
				n++
				break
			}
		}
	}
	return n
}

func (r *SheetRecognizer) missingIdentity(mappings map[int]FieldMapping) []string {
	var missing []string
	for _, f := range r.policies.Identity() {
		found := false
		for _, m := range mappings {
			if m.Field == f.Name {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, f.Name)
		}
	}
	return missing
}

func (r *SheetRecognizer) identityNames() []string {
	var names []string
	for _, f := range r.policies.Identity() {
		names = append(names, f.Name)
	}
	return names
}
