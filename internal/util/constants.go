package util

// ExportTimeFormat 导出文件名中的时间戳格式
const ExportTimeFormat = "20060102-150405"

const (
	StorageLocal = "local"
	StorageMinio = "minio"
	StorageOSS   = "oss"
)

const MimeJSON = "application/json"
