// Package docs 手工维护的 Swagger 文档，修改 controller 注释后需同步更新
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/health": {
            "get": {
                "description": "检查数据库和缓存状态",
                "produces": ["application/json"],
                "tags": ["系统"],
                "summary": "健康检查",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/util.Response"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/util.Response"}}
                }
            }
        },
        "/quiz/badges": {
            "get": {
                "produces": ["application/json"],
                "tags": ["测验进度"],
                "summary": "徽章目录",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/util.Response"}}
                }
            }
        },
        "/quiz/leaderboard": {
            "get": {
                "security": [{"ApiKeyAuth": []}],
                "produces": ["application/json"],
                "tags": ["测验进度"],
                "summary": "积分排行榜",
                "parameters": [
                    {"type": "integer", "default": 10, "description": "返回数量", "name": "limit", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/util.Response"}}
                }
            }
        },
        "/quiz/progress": {
            "get": {
                "security": [{"ApiKeyAuth": []}],
                "description": "返回当前用户的进度，不存在时创建默认记录",
                "produces": ["application/json"],
                "tags": ["测验进度"],
                "summary": "获取测验进度",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/util.Response"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/util.Response"}}
                }
            },
            "post": {
                "security": [{"ApiKeyAuth": []}],
                "description": "累计积分、等级和连续天数并评估徽章；存储不可用时返回降级结果",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["测验进度"],
                "summary": "提交测验结果",
                "parameters": [
                    {"description": "测验结果", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/controller.SubmitQuizRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/util.Response"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/util.Response"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/util.Response"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/util.Response"}}
                }
            }
        },
        "/quiz/progress/export": {
            "post": {
                "security": [{"ApiKeyAuth": []}],
                "description": "生成 JSON 文件并上传到存储，返回下载地址",
                "produces": ["application/json"],
                "tags": ["测验进度"],
                "summary": "导出测验进度",
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/util.Response"}}
                }
            }
        },
        "/quiz/progress/export/{name}": {
            "delete": {
                "security": [{"ApiKeyAuth": []}],
                "produces": ["application/json"],
                "tags": ["测验进度"],
                "summary": "删除导出文件",
                "parameters": [
                    {"type": "string", "description": "导出文件名，如 20240301-081500.json", "name": "name", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/util.Response"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/util.Response"}}
                }
            }
        },
        "/admin/quiz/replay": {
            "post": {
                "security": [{"ApiKeyAuth": []}],
                "description": "不等待后台定时任务，立即把排队的测验提交写入存储",
                "produces": ["application/json"],
                "tags": ["运维"],
                "summary": "立即重放待处理提交",
                "parameters": [
                    {"type": "integer", "description": "本次最多重放条数", "name": "limit", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/util.Response"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/util.Response"}}
                }
            }
        }
    },
    "definitions": {
        "controller.SubmitQuizRequest": {
            "type": "object",
            "required": ["score", "total"],
            "properties": {
                "category": {"type": "string"},
                "difficulty": {"type": "string", "enum": ["easy", "medium", "hard"]},
                "score": {"type": "integer"},
                "total": {"type": "integer"}
            }
        },
        "util.Response": {
            "type": "object",
            "properties": {
                "code": {"type": "integer"},
                "data": {},
                "message": {"type": "string"}
            }
        }
    },
    "securityDefinitions": {
        "ApiKeyAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    }
}`

var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api",
	Schemes:          []string{},
	Title:            "理财测验进度 API",
	Description:      "理财知识测验的积分、等级、连续天数与徽章服务。",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
