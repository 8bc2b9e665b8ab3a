package orchestrator

import (
	"context"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	xerrors "DRaaS-Chain/internal/errors"
	"DRaaS-Chain/internal/events"
	"DRaaS-Chain/internal/observability/metrics"
	"DRaaS-Chain/internal/observability/tracing"
	"DRaaS-Chain/internal/reconcile"
	"DRaaS-Chain/internal/scheduling"
	"DRaaS-Chain/pkg/logger"
)

// CancelResult 描述一次取消请求的结果。
type CancelResult struct {
	DeploymentID string            `json:"deployment_id"`
	Status       scheduling.Status `json:"status"`
	// Skipped 为 true 表示部署已处于终态，没有发出请求。
	Skipped bool `json:"skipped"`
}

// RequestCancel 取消当前选中的部署。
func (o *Orchestrator) RequestCancel(ctx context.Context) (CancelResult, error) {
	id := o.store.SelectedID()
	if id == "" {
		return CancelResult{}, reconcile.ErrNoSelection
	}
	return o.Cancel(ctx, id)
}

// Cancel 取消指定部署。取消与上传会话相互独立。
//
// 部署已处于终态时不发出请求；否则无论调度器如何响应，都会刷新快照并清除选中项。
func (o *Orchestrator) Cancel(ctx context.Context, deploymentID string) (CancelResult, error) {
	deploymentID = strings.TrimSpace(deploymentID)
	dep, ok := o.store.Deployment(deploymentID)
	if !ok {
		return CancelResult{DeploymentID: deploymentID}, ErrDeploymentNotFound
	}
	if dep.Status.IsTerminal() {
		metrics.ObserveCancel("skipped")
		o.log.Info("deployment already terminal, cancel skipped",
			slog.String("deployment_id", deploymentID),
			slog.String("status", string(dep.Status)))
		return CancelResult{DeploymentID: deploymentID, Status: dep.Status, Skipped: true}, nil
	}

	agentIP := o.agentAddress(dep)
	ctx, span := tracing.Start(ctx, tracerName, "deployment.cancel",
		attribute.String("deployment.id", deploymentID),
		attribute.String("agent.ip", agentIP))
	status, err := o.scheduler.CancelDeployment(ctx, deploymentID, agentIP)
	tracing.End(span, err)

	if refreshErr := o.store.Refresh(ctx); refreshErr != nil {
		o.log.Warn("post-cancel refresh incomplete", slog.Any("error", refreshErr))
	}
	o.store.ClearSelection()

	result := CancelResult{DeploymentID: deploymentID, Status: scheduling.Status(status)}
	outcome := "cancelled"
	if err != nil {
		outcome = "failed"
	}
	metrics.ObserveCancel(outcome)
	logger.Audit().Info("deployment cancel",
		slog.String("deployment_id", deploymentID),
		slog.String("agent_ip", agentIP),
		slog.String("outcome", outcome),
		slog.String("status", status),
		slog.String("error_code", errorCode(err)))

	event := events.New(events.KindDeploymentCancel)
	event.DeploymentID = deploymentID
	event.Message = status
	event.ErrorCode = errorCode(err)
	if err != nil {
		event.Message = xerrors.MessageOf(err)
	}
	if pubErr := o.publisher.Publish(context.WithoutCancel(ctx), event); pubErr != nil {
		o.log.Warn("event publish failed", slog.String("deployment_id", deploymentID), slog.Any("error", pubErr))
	}
	return result, err
}

// agentAddress 返回取消请求使用的 agent 地址。调度器在部署记录中保存的就是
// agent 地址；若快照中存在同名 agent，则以其上报的 IP 为准。
func (o *Orchestrator) agentAddress(dep scheduling.Deployment) string {
	if agent, ok := o.store.Agent(dep.AgentID); ok && agent.IP != "" {
		return agent.IP
	}
	return dep.AgentID
}

func errorCode(err error) string {
	if err == nil {
		return ""
	}
	return string(xerrors.CodeOf(err))
}
