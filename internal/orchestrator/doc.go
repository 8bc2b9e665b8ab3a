// Package orchestrator 实现上传并付费流程的状态机：提交代码包、
// 以返回的部署 ID 作为标签支付链上费用、等待确认，并负责取消部署。
package orchestrator
