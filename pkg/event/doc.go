// Package event は認証に関する監査イベントを提供する。
//
// トークン発行、認証情報の検証失敗、ログアウトを不変のイベントとして記録する。
// 記録先はゲートウェイのSQLiteデータベースであり、トークンの検証処理には関与しない。
package event
