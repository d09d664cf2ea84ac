package rpc

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"PChatCore/logger"
	"PChatCore/tools/errs"
)

// ServiceChat 健康检查里的服务名；"" 代表整个进程
const ServiceChat = "pchat.ChatGateway"

// HealthServer 只挂 grpc health，供负载均衡 / k8s 探活
type HealthServer struct {
	addr string
	gs   *grpc.Server
	hs   *health.Server
	log  *zap.Logger
}

func NewHealthServer(addr string) *HealthServer {
	gs := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	h := &HealthServer{addr: addr, gs: gs, hs: hs, log: logger.Named("grpc")}
	h.SetServing(true)
	return h
}

// SetServing 进程与聊天服务一起切换
func (h *HealthServer) SetServing(ok bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		st = healthpb.HealthCheckResponse_SERVING
	}
	h.hs.SetServingStatus("", st)
	h.hs.SetServingStatus(ServiceChat, st)
}

func (h *HealthServer) ListenAndServe() error {
	lis, err := net.Listen("tcp", h.addr)
	if err != nil {
		return errs.WrapMsg(err, "grpc listen", "addr", h.addr)
	}
	return h.Serve(lis)
}

func (h *HealthServer) Serve(lis net.Listener) error {
	h.log.Info("listening", zap.String("addr", lis.Addr().String()))
	if err := h.gs.Serve(lis); err != nil && err != grpc.ErrServerStopped {
		return err
	}
	return nil
}

// Stop 先置为 NOT_SERVING，再优雅停止
func (h *HealthServer) Stop() {
	h.hs.Shutdown()
	h.gs.GracefulStop()
}

// Check 探活一次；非 SERVING 返回 Unavailable
func Check(ctx context.Context, target, service string, opts ...grpc.DialOption) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
	}
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return errs.WrapMsg(err, "grpc dial", "target", target)
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return errs.ErrUnavailable.WrapMsg("health check failed", "target", target, "err", err.Error())
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return errs.ErrUnavailable.WrapMsg("not serving", "target", target, "status", resp.GetStatus().String())
	}
	return nil
}
