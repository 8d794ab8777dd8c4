package sqlinline

// Schema of the accounts database used by the Postgres ledger:
//
//	create table accounts (
//	    user_id    text primary key,
//	    tier       text not null default 'free',
//	    balance    integer not null default 0 check (balance >= 0),
//	    updated_at timestamptz not null default now()
//	);
//	create table ledger_ops (
//	    user_id    text not null references accounts(user_id),
//	    job_id     text not null,
//	    op         text not null check (op in ('debit', 'refund')),
//	    kind       text not null,
//	    amount     integer not null check (amount >= 0),
//	    created_at timestamptz not null default now(),
//	    primary key (user_id, job_id, op)
//	);

const QInsertLedgerOp = `--sql 3f1c9d2a-6e4b-4a8f-b1d7-2c5e8f0a9b31
insert into ledger_ops (user_id, job_id, op, kind, amount, created_at)
values ($1::text, $2::text, $3::text, $4::text, $5::int, now())
on conflict (user_id, job_id, op) do nothing;
`

const QDebitBalance = `--sql 8b2e4f6a-1c3d-4e5f-9a7b-0d2c4e6f8a13
update accounts
set balance = balance - $2::int, updated_at = now()
where user_id = $1::text and balance >= $2::int;
`

const QCreditBalance = `--sql c4d6e8f0-2a4b-4c6d-8e0f-1a3b5c7d9e24
update accounts
set balance = balance + $2::int, updated_at = now()
where user_id = $1::text;
`

const QSelectDebitAmount = `--sql 5e7f9a1b-3c5d-4e7f-a1b3-c5d7e9f1a235
select amount from ledger_ops
where user_id = $1::text and job_id = $2::text and op = 'debit';
`

const QSelectAccount = `--sql 9a1b3c5d-7e9f-4a1b-83c5-d7e9f1a3b546
select tier, balance from accounts where user_id = $1::text;
`

const QSelectDailyUsage = `--sql d1e3f5a7-b9c1-4d3e-95f7-a9b1c3d5e657
select o.kind, count(*)::int
from ledger_ops o
where o.user_id = $1::text
  and o.op = 'debit'
  and o.created_at >= date_trunc('day', now() at time zone 'utc') at time zone 'utc'
  and not exists (
      select 1 from ledger_ops r
      where r.user_id = o.user_id and r.job_id = o.job_id and r.op = 'refund'
  )
group by o.kind;
`

const QUpsertAccountTier = `--sql 2b4d6f8a-0c2e-4f6a-b8c0-e2f4a6b8c768
insert into accounts (user_id, tier, balance, updated_at)
values ($1::text, $2::text, 0, now())
on conflict (user_id) do update set tier = excluded.tier, updated_at = now();
`

const QGrantTokens = `--sql 6f8a0c2e-4a6c-4e8a-a0c2-a4c6e8f0a879
insert into accounts (user_id, tier, balance, updated_at)
values ($1::text, 'free', $2::int, now())
on conflict (user_id) do update set balance = accounts.balance + excluded.balance, updated_at = now()
returning balance;
`

const QPing = `--sql 0a2c4e6f-8b0d-4f2a-94c6-e8a0b2c4d98a
select 1;
`
