package model

// ResolutionStatus 拆分组的解析状态
type ResolutionStatus string

const (
	StatusResolved  ResolutionStatus = "resolved"
	StatusAmbiguous ResolutionStatus = "ambiguous"
	StatusInvalid   ResolutionStatus = "invalid"
	StatusDuplicate ResolutionStatus = "duplicate"
)

// SplitCellGroup 属于同一逻辑实体的一组单元格
type SplitCellGroup struct {
	EntityKey string           `json:"entityKey"`
	Members   []RawCell        `json:"members"`
	Status    ResolutionStatus `json:"status"`
	Reasons   []string         `json:"reasons,omitempty"`
}

// CanonicalRecord 合并去重后的薪资记录
type CanonicalRecord struct {
	EntityKey  string                     `json:"entityKey"`
	Fields     map[string]NormalizedValue `json:"fields"`
	Provenance []RawCell                  `json:"provenance"`
}

// MasterRecord 主台账中的一行
type MasterRecord struct {
	EntityKey         string                     `json:"entityKey"`
	Fields            map[string]NormalizedValue `json:"fields"`
	LastUpdatedPeriod string                     `json:"lastUpdatedPeriod,omitempty"`
	Row               int                        `json:"row"`
}

// MasterSnapshot 主台账快照（由外部加载器读取）
type MasterSnapshot struct {
	Path      string          `json:"path"`
	Sheet     string          `json:"sheet"`
	HeaderRow int             `json:"headerRow"`
	Columns   map[string]int  `json:"columns"` // 字段名 -> 列号(1-based)
	Records   []*MasterRecord `json:"records"`
	SHA256    string          `json:"sha256"`
}

// MatchKind 匹配分类
type MatchKind string

const (
	MatchMatched      MatchKind = "matched"
	MatchNewEntity    MatchKind = "new_entity"
	MatchOrphanMaster MatchKind = "orphan_master"
)

// MatchResult 一条薪资记录（或一条主台账行）的匹配结果
type MatchResult struct {
	Kind   MatchKind        `json:"kind"`
	Record *CanonicalRecord `json:"record,omitempty"`
	Master *MasterRecord    `json:"master,omitempty"`
}

// EntityKey 匹配结果对应的实体键
func (m MatchResult) EntityKey() string {
	if m.Record != nil {
		return m.Record.EntityKey
	}
	if m.Master != nil {
		return m.Master.EntityKey
	}
	return ""
}
