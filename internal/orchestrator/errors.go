package orchestrator

import (
	xerrors "DRaaS-Chain/internal/errors"
)

const (
	// CodeUploadInProgress 表示已有上传会话在进行。
	CodeUploadInProgress xerrors.Code = "UPLOAD_IN_PROGRESS"
	// CodeInvalidUpload 表示上传请求缺少文件或运行时类型不合法。
	CodeInvalidUpload xerrors.Code = "INVALID_UPLOAD"
	// CodeDeploymentNotFound 表示快照中没有目标部署。
	CodeDeploymentNotFound xerrors.Code = "DEPLOYMENT_NOT_FOUND"
)

func init() {
	xerrors.Register(CodeUploadInProgress, xerrors.Attributes{
		Message:  "An upload is already in progress",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeInvalidUpload, xerrors.Attributes{
		Message:  "Please select a file to upload",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeDeploymentNotFound, xerrors.Attributes{
		Message:  "Deployment not found",
		Severity: xerrors.SeverityInfo,
	})
}

var (
	// ErrUploadInProgress 在单飞约束被违反时返回。
	ErrUploadInProgress = xerrors.New(CodeUploadInProgress, "An upload is already in progress")
	// ErrDeploymentNotFound 在取消未知部署时返回，不会发起网络请求。
	ErrDeploymentNotFound = xerrors.New(CodeDeploymentNotFound, "Deployment not found")
)
