package catalogv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ServiceName — полное имя gRPC-сервиса.
const ServiceName = "catalog.v1.CatalogService"

// Полные имена методов.
const (
	MethodCreateProduct     = "/" + ServiceName + "/CreateProduct"
	MethodUpdateProduct     = "/" + ServiceName + "/UpdateProduct"
	MethodGetProduct        = "/" + ServiceName + "/GetProduct"
	MethodListProducts      = "/" + ServiceName + "/ListProducts"
	MethodGetProductVersion = "/" + ServiceName + "/GetProductVersion"
	MethodPlaceOrder        = "/" + ServiceName + "/PlaceOrder"
	MethodGetOrder          = "/" + ServiceName + "/GetOrder"
	MethodListOrders        = "/" + ServiceName + "/ListOrders"
	MethodRecalculateOrder  = "/" + ServiceName + "/RecalculateOrder"
)

// CatalogServiceServer — серверная часть API каталога.
type CatalogServiceServer interface {
	CreateProduct(context.Context, *CreateProductRequest) (*CreateProductResponse, error)
	UpdateProduct(context.Context, *UpdateProductRequest) (*UpdateProductResponse, error)
	GetProduct(context.Context, *GetProductRequest) (*GetProductResponse, error)
	ListProducts(context.Context, *ListProductsRequest) (*ListProductsResponse, error)
	GetProductVersion(context.Context, *GetProductVersionRequest) (*GetProductVersionResponse, error)
	PlaceOrder(context.Context, *PlaceOrderRequest) (*PlaceOrderResponse, error)
	GetOrder(context.Context, *GetOrderRequest) (*GetOrderResponse, error)
	ListOrders(context.Context, *ListOrdersRequest) (*ListOrdersResponse, error)
	RecalculateOrder(context.Context, *RecalculateOrderRequest) (*RecalculateOrderResponse, error)
}

// UnimplementedCatalogServiceServer отвечает Unimplemented на все методы.
type UnimplementedCatalogServiceServer struct{}

func (UnimplementedCatalogServiceServer) CreateProduct(context.Context, *CreateProductRequest) (*CreateProductResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method CreateProduct not implemented")
}
func (UnimplementedCatalogServiceServer) UpdateProduct(context.Context, *UpdateProductRequest) (*UpdateProductResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method UpdateProduct not implemented")
}
func (UnimplementedCatalogServiceServer) GetProduct(context.Context, *GetProductRequest) (*GetProductResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetProduct not implemented")
}
func (UnimplementedCatalogServiceServer) ListProducts(context.Context, *ListProductsRequest) (*ListProductsResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ListProducts not implemented")
}
func (UnimplementedCatalogServiceServer) GetProductVersion(context.Context, *GetProductVersionRequest) (*GetProductVersionResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetProductVersion not implemented")
}
func (UnimplementedCatalogServiceServer) PlaceOrder(context.Context, *PlaceOrderRequest) (*PlaceOrderResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method PlaceOrder not implemented")
}
func (UnimplementedCatalogServiceServer) GetOrder(context.Context, *GetOrderRequest) (*GetOrderResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetOrder not implemented")
}
func (UnimplementedCatalogServiceServer) ListOrders(context.Context, *ListOrdersRequest) (*ListOrdersResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ListOrders not implemented")
}
func (UnimplementedCatalogServiceServer) RecalculateOrder(context.Context, *RecalculateOrderRequest) (*RecalculateOrderResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method RecalculateOrder not implemented")
}

// RegisterCatalogServiceServer регистрирует реализацию на gRPC-сервере.
func RegisterCatalogServiceServer(s grpc.ServiceRegistrar, srv CatalogServiceServer) {
	s.RegisterService(&CatalogServiceDesc, srv)
}

// CatalogServiceDesc описывает сервис для grpc.Server.
var CatalogServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CatalogServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateProduct", Handler: unaryHandler(MethodCreateProduct, CatalogServiceServer.CreateProduct)},
		{MethodName: "UpdateProduct", Handler: unaryHandler(MethodUpdateProduct, CatalogServiceServer.UpdateProduct)},
		{MethodName: "GetProduct", Handler: unaryHandler(MethodGetProduct, CatalogServiceServer.GetProduct)},
		{MethodName: "ListProducts", Handler: unaryHandler(MethodListProducts, CatalogServiceServer.ListProducts)},
		{MethodName: "GetProductVersion", Handler: unaryHandler(MethodGetProductVersion, CatalogServiceServer.GetProductVersion)},
		{MethodName: "PlaceOrder", Handler: unaryHandler(MethodPlaceOrder, CatalogServiceServer.PlaceOrder)},
		{MethodName: "GetOrder", Handler: unaryHandler(MethodGetOrder, CatalogServiceServer.GetOrder)},
		{MethodName: "ListOrders", Handler: unaryHandler(MethodListOrders, CatalogServiceServer.ListOrders)},
		{MethodName: "RecalculateOrder", Handler: unaryHandler(MethodRecalculateOrder, CatalogServiceServer.RecalculateOrder)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "catalog/v1/catalog.go",
}

func unaryHandler[Req, Resp any](fullMethod string, call func(CatalogServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(CatalogServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(CatalogServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// CatalogServiceClient — клиент API каталога.
type CatalogServiceClient interface {
	CreateProduct(ctx context.Context, in *CreateProductRequest, opts ...grpc.CallOption) (*CreateProductResponse, error)
	UpdateProduct(ctx context.Context, in *UpdateProductRequest, opts ...grpc.CallOption) (*UpdateProductResponse, error)
	GetProduct(ctx context.Context, in *GetProductRequest, opts ...grpc.CallOption) (*GetProductResponse, error)
	ListProducts(ctx context.Context, in *ListProductsRequest, opts ...grpc.CallOption) (*ListProductsResponse, error)
	GetProductVersion(ctx context.Context, in *GetProductVersionRequest, opts ...grpc.CallOption) (*GetProductVersionResponse, error)
	PlaceOrder(ctx context.Context, in *PlaceOrderRequest, opts ...grpc.CallOption) (*PlaceOrderResponse, error)
	GetOrder(ctx context.Context, in *GetOrderRequest, opts ...grpc.CallOption) (*GetOrderResponse, error)
	ListOrders(ctx context.Context, in *ListOrdersRequest, opts ...grpc.CallOption) (*ListOrdersResponse, error)
	RecalculateOrder(ctx context.Context, in *RecalculateOrderRequest, opts ...grpc.CallOption) (*RecalculateOrderResponse, error)
}

type catalogServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewCatalogServiceClient создаёт клиента; все вызовы идут через JSON-кодек.
func NewCatalogServiceClient(cc grpc.ClientConnInterface) CatalogServiceClient {
	return &catalogServiceClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{CallOption()}, opts...)
	if err := cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *catalogServiceClient) CreateProduct(ctx context.Context, in *CreateProductRequest, opts ...grpc.CallOption) (*CreateProductResponse, error) {
	return invoke[CreateProductResponse](ctx, c.cc, MethodCreateProduct, in, opts)
}

func (c *catalogServiceClient) UpdateProduct(ctx context.Context, in *UpdateProductRequest, opts ...grpc.CallOption) (*UpdateProductResponse, error) {
	return invoke[UpdateProductResponse](ctx, c.cc, MethodUpdateProduct, in, opts)
}

func (c *catalogServiceClient) GetProduct(ctx context.Context, in *GetProductRequest, opts ...grpc.CallOption) (*GetProductResponse, error) {
	return invoke[GetProductResponse](ctx, c.cc, MethodGetProduct, in, opts)
}

func (c *catalogServiceClient) ListProducts(ctx context.Context, in *ListProductsRequest, opts ...grpc.CallOption) (*ListProductsResponse, error) {
	return invoke[ListProductsResponse](ctx, c.cc, MethodListProducts, in, opts)
}

func (c *catalogServiceClient) GetProductVersion(ctx context.Context, in *GetProductVersionRequest, opts ...grpc.CallOption) (*GetProductVersionResponse, error) {
	return invoke[GetProductVersionResponse](ctx, c.cc, MethodGetProductVersion, in, opts)
}

func (c *catalogServiceClient) PlaceOrder(ctx context.Context, in *PlaceOrderRequest, opts ...grpc.CallOption) (*PlaceOrderResponse, error) {
	return invoke[PlaceOrderResponse](ctx, c.cc, MethodPlaceOrder, in, opts)
}

func (c *catalogServiceClient) GetOrder(ctx context.Context, in *GetOrderRequest, opts ...grpc.CallOption) (*GetOrderResponse, error) {
	return invoke[GetOrderResponse](ctx, c.cc, MethodGetOrder, in, opts)
}

func (c *catalogServiceClient) ListOrders(ctx context.Context, in *ListOrdersRequest, opts ...grpc.CallOption) (*ListOrdersResponse, error) {
	return invoke[ListOrdersResponse](ctx, c.cc, MethodListOrders, in, opts)
}

func (c *catalogServiceClient) RecalculateOrder(ctx context.Context, in *RecalculateOrderRequest, opts ...grpc.CallOption) (*RecalculateOrderResponse, error) {
	return invoke[RecalculateOrderResponse](ctx, c.cc, MethodRecalculateOrder, in, opts)
}
