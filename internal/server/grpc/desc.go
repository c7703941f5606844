package grpc

import (
	"context"
	"sort"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "vaultguard.v1.Engine"

type method func(s *GRPCServer, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

var methods = map[string]method{
	"CreateBackup":         (*GRPCServer).CreateBackup,
	"RestoreBackup":        (*GRPCServer).RestoreBackup,
	"VerifyBackup":         (*GRPCServer).VerifyBackup,
	"GetBackupStatus":      (*GRPCServer).GetBackupStatus,
	"ListBackups":          (*GRPCServer).ListBackups,
	"DeleteBackup":         (*GRPCServer).DeleteBackup,
	"InitiateSync":         (*GRPCServer).InitiateSync,
	"CancelSync":           (*GRPCServer).CancelSync,
	"ResolveConflict":      (*GRPCServer).ResolveConflict,
	"GetSyncStatus":        (*GRPCServer).GetSyncStatus,
	"ListSyncHistory":      (*GRPCServer).ListSyncHistory,
	"ScanExpirations":      (*GRPCServer).ScanExpirations,
	"ListUnresolvedAlerts": (*GRPCServer).ListUnresolvedAlerts,
	"MarkAlertRead":        (*GRPCServer).MarkAlertRead,
	"ResolveAlert":         (*GRPCServer).ResolveAlert,
	"RegisterDevice":       (*GRPCServer).RegisterDevice,
	"ListDevices":          (*GRPCServer).ListDevices,
	"SetPrimaryDevice":     (*GRPCServer).SetPrimaryDevice,
	"RemoveDevice":         (*GRPCServer).RemoveDevice,
	"ListNotifications":    (*GRPCServer).ListNotifications,
}

// FullMethod returns the invocation path of method name.
func FullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

func serviceDesc() grpc.ServiceDesc {
	names := make([]string, 0, len(methods))
	for name := range methods {
		names = append(names, name)
	}
	sort.Strings(names)

	desc := grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*any)(nil),
		Streams:     []grpc.StreamDesc{},
		Metadata:    "vaultguard/v1/engine.proto",
	}
	for _, name := range names {
		desc.Methods = append(desc.Methods, grpc.MethodDesc{MethodName: name, Handler: unaryHandler(name, methods[name])})
	}
	return desc
}

func unaryHandler(name string, m method) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		s := srv.(*GRPCServer)
		if interceptor == nil {
			return m(s, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return m(s, ctx, req.(*structpb.Struct))
		})
	}
}
