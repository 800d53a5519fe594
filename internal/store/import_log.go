package store

import (
	"fmt"
	"strings"

	"accrualsync/internal/parser"
)

// ImportLog 一次运行中单个薪资表文件的加载记录
type ImportLog struct {
	ID             int64  `json:"id"`
	RunID          string `json:"runId"`
	Filename       string `json:"filename"`
	FilePath       string `json:"filePath"`
	FileSize       int64  `json:"fileSize"`
	FileHash       string `json:"fileHash"`
	TotalSheets    int    `json:"totalSheets"`
	ImportedSheets int    `json:"importedSheets"`
	SkippedSheets  int    `json:"skippedSheets"`
	TotalRows      int    `json:"totalRows"`
	TotalCells     int    `json:"totalCells"`
	Warnings       string `json:"warnings,omitempty"`
}

// CreateImportLog 记录文件加载结果，返回 import_log_id
func (s *Store) CreateImportLog(runID, filePath string, fileSize int64, fileHash string, report *parser.ImportReport) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO import_logs (run_id, filename, file_path, file_size, file_hash,
			total_sheets, imported_sheets, skipped_sheets, total_rows, total_cells, warnings)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, runID, report.Filename, filePath, fileSize, fileHash,
		report.TotalSheets, report.ImportedSheets, report.SkippedSheets, report.TotalRows, report.TotalCells,
		strings.Join(report.Warnings, "\n"))
	if err != nil {
		return 0, fmt.Errorf("failed to create import log: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get import log id: %w", err)
	}
	return id, nil
}

// ListImportLogs 列出某次运行的文件加载记录
func (s *Store) ListImportLogs(runID string) ([]ImportLog, error) {
	rows, err := s.db.Query(`
		SELECT id, run_id, filename, file_path, file_size, file_hash,
			total_sheets, imported_sheets, skipped_sheets, total_rows, total_cells, warnings
		FROM import_logs WHERE run_id = ? ORDER BY id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list import logs: %w", err)
	}
	defer rows.Close()

	var out []ImportLog
	for rows.Next() {
		var l ImportLog
		if err := rows.Scan(&l.ID, &l.RunID, &l.Filename, &l.FilePath, &l.FileSize, &l.FileHash,
			&l.TotalSheets, &l.ImportedSheets, &l.SkippedSheets, &l.TotalRows, &l.TotalCells, &l.Warnings); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
