package handler

import (
	"context"
	"reflect"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ethaccount/aawallet/src/service"
)

// RegisterRoutes mounts the REST API and the JSON-RPC endpoint. Routes that
// mint or move funds are only mounted when apiSecret is set, and then require
// it in the X-API-Secret header.
func RegisterRoutes(ctx context.Context, router *gin.Engine, app *service.Application, apiSecret string) {

	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
			if value, ok := field.Interface().(decimal.Decimal); ok {
				return value.String()
			}
			return nil
		}, decimal.Decimal{})
	}

	SetMiddlewares(ctx, router)

	router.GET("/health", handleHealthCheck)
	router.POST("/rpc", gin.WrapH(app.RPCServer))

	bundlerHandler := NewBundlerHandler(app.BundlerService)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/ops", bundlerHandler.HandleOps)
		v1.POST("/ops/send", bundlerHandler.SendUserOperation)
		v1.POST("/ops/hash", bundlerHandler.UserOpHash)
		v1.POST("/ops/simulate", bundlerHandler.SimulateValidation)
		v1.GET("/receipts/:hash", bundlerHandler.GetReceipt)
		v1.GET("/accounts/:address", bundlerHandler.GetAccount)
		v1.POST("/accounts/address", bundlerHandler.SenderAddress)
	}

	if apiSecret == "" {
		zerolog.Ctx(ctx).Warn().Msg("API_SECRET is not set, faucet and paymaster funding routes are disabled")
		return
	}

	admin := v1.Group("", SharedSecretMiddleware(apiSecret))
	{
		admin.POST("/faucet", bundlerHandler.Faucet)
		admin.POST("/paymasters/:address/deposit", bundlerHandler.FundPaymaster)
		admin.POST("/paymasters/:address/tokens", bundlerHandler.DepositTokens)
	}
}
