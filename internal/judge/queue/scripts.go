package queue

import "github.com/redis/go-redis/v9"

// Every script takes the queue keys in this order:
//
//	1 order  ZSET  member -> -priority
//	2 body   HASH  member -> task JSON
//	3 index  HASH  "<domain>/<rid>" -> member
//	4 ref    HASH  member -> "<domain>/<rid>"
//	5 lang   HASH  member -> language
//	6 owner  HASH  member -> uid
//	7 pending HASH uid -> queued task count
//
// Members are zero-padded enqueue sequence numbers, so equal scores order
// first-in first-out.
const removeMember = `
local function remove(member)
	local ref = redis.call('HGET', KEYS[4], member)
	local uid = redis.call('HGET', KEYS[6], member)
	redis.call('ZREM', KEYS[1], member)
	redis.call('HDEL', KEYS[2], member)
	redis.call('HDEL', KEYS[4], member)
	redis.call('HDEL', KEYS[5], member)
	redis.call('HDEL', KEYS[6], member)
	if ref then
		redis.call('HDEL', KEYS[3], ref)
	end
	if uid then
		if redis.call('HINCRBY', KEYS[7], uid, -1) <= 0 then
			redis.call('HDEL', KEYS[7], uid)
		end
	end
end
`

// ARGV: ref, member, score, lang, uid, body. Replaces any task queued for the
// same record and returns 1 when one was replaced.
var enqueueScript = redis.NewScript(removeMember + `
local replaced = 0
local old = redis.call('HGET', KEYS[3], ARGV[1])
if old then
	remove(old)
	replaced = 1
end
redis.call('ZADD', KEYS[1], ARGV[3], ARGV[2])
redis.call('HSET', KEYS[2], ARGV[2], ARGV[6])
redis.call('HSET', KEYS[3], ARGV[1], ARGV[2])
redis.call('HSET', KEYS[4], ARGV[2], ARGV[1])
redis.call('HSET', KEYS[5], ARGV[2], ARGV[4])
redis.call('HSET', KEYS[6], ARGV[2], ARGV[5])
redis.call('HINCRBY', KEYS[7], ARGV[5], 1)
return replaced
`)

// ARGV: score bound ("" for none), then the accepted languages (none means
// any). Scores are negated priorities, so a task passes the floor when its
// score is strictly below the bound. Removes and returns the first matching
// body, or nil.
var popScript = redis.NewScript(removeMember + `
local hasBound = ARGV[1] ~= ''
local bound = 0
if hasBound then
	bound = tonumber(ARGV[1])
end
local anyLang = #ARGV < 2
local langs = {}
for i = 2, #ARGV do
	langs[ARGV[i]] = true
end
local start = 0
while true do
	local batch = redis.call('ZRANGE', KEYS[1], start, start + 127, 'WITHSCORES')
	if #batch == 0 then
		return false
	end
	for i = 1, #batch, 2 do
		local member = batch[i]
		if hasBound and tonumber(batch[i + 1]) >= bound then
			return false
		end
		local lang = redis.call('HGET', KEYS[5], member)
		if anyLang or (lang and langs[lang]) then
			local body = redis.call('HGET', KEYS[2], member)
			remove(member)
			return body
		end
	end
	start = start + 128
end
`)

// ARGV: ref. Returns 1 when a queued task was removed.
var cancelScript = redis.NewScript(removeMember + `
local member = redis.call('HGET', KEYS[3], ARGV[1])
if not member then
	return 0
end
remove(member)
return 1
`)
