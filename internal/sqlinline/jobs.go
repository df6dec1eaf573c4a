package sqlinline

const QSelectGenerationJobByTaskID = `--sql 015bcd70-df92-4f33-90d0-011a1a54c8b5
select id::text, provider_task_id, kind, name, coalesce(source_prompt, ''), coalesce(source_image_url, ''),
       status, progress, coalesce(result_model_url, ''), coalesce(result_image_url, ''),
       owner_id, is_public, created_at, updated_at
from generation_jobs
where provider_task_id = $1::text
limit 1;
`

const QSelectGenerationJobByID = `--sql 05314454-def9-4c25-9bc0-c04f7ad692ce
select id::text, provider_task_id, kind, name, coalesce(source_prompt, ''), coalesce(source_image_url, ''),
       status, progress, coalesce(result_model_url, ''), coalesce(result_image_url, ''),
       owner_id, is_public, created_at, updated_at
from generation_jobs
where id = $1::uuid
  and deleted_at is null
limit 1;
`

// QUpsertGenerationJob refuses to move a terminal record backwards; the
// conflict branch then updates nothing and no row is returned. Only a success
// without result URLs may become processing_failed. Result URLs keep their
// first non-empty value.
const QUpsertGenerationJob = `--sql 8ba046ee-73c6-4388-b4f6-b835e0776136
insert into generation_jobs (
    id, provider_task_id, kind, name, source_prompt, source_image_url,
    status, progress, result_model_url, result_image_url, owner_id, created_at, updated_at
)
values (
    $1::uuid, $2::text, $3::text, $4::text, nullif($5::text, ''), nullif($6::text, ''),
    $7::text, $8::int, nullif($9::text, ''), nullif($10::text, ''), $11::text, now(), now()
)
on conflict (provider_task_id) do update set
    status = excluded.status,
    progress = excluded.progress,
    result_model_url = coalesce(nullif(generation_jobs.result_model_url, ''), excluded.result_model_url),
    result_image_url = coalesce(nullif(generation_jobs.result_image_url, ''), excluded.result_image_url),
    updated_at = now()
where generation_jobs.status not in ('success', 'failed', 'banned', 'expired', 'cancelled', 'processing_failed')
   or generation_jobs.status = excluded.status
   or (generation_jobs.status = 'success' and excluded.status = 'processing_failed'
       and coalesce(generation_jobs.result_model_url, '') = '')
returning id::text, provider_task_id, kind, name, coalesce(source_prompt, ''), coalesce(source_image_url, ''),
          status, progress, coalesce(result_model_url, ''), coalesce(result_image_url, ''),
          owner_id, is_public, created_at, updated_at;
`

// QListGenerationJobs carries a %s placeholder for the validated ORDER BY clause.
const QListGenerationJobs = `--sql bb792e96-5de6-4fd6-8297-8e51be195fb4
select id::text, provider_task_id, kind, name, coalesce(source_prompt, ''), coalesce(source_image_url, ''),
       status, progress, coalesce(result_model_url, ''), coalesce(result_image_url, ''),
       owner_id, is_public, created_at, updated_at,
       count(*) over() as total
from generation_jobs
where deleted_at is null
  and ($1::text = '' or provider_task_id = $1::text)
  and ($2::text = '' or name ilike $2::text)
  and ($3::text = '' or source_prompt ilike $3::text)
  and ($4::text = '' or status = $4::text)
  and ($5::text = '' or owner_id = $5::text)
  and ($6::timestamptz is null or created_at >= $6::timestamptz)
order by %s
limit $7::int offset $8::int;
`

const QUpdateGenerationJobDetails = `--sql fd043a34-f6cf-451a-9586-6a6b3b91adb7
update generation_jobs
set name = coalesce($2::text, name),
    is_public = coalesce($3::boolean, is_public),
    updated_at = now()
where id = $1::uuid
  and deleted_at is null;
`

const QSoftDeleteGenerationJob = `--sql 813787f8-998b-4068-bd93-bceb7ddd443a
update generation_jobs
set deleted_at = now(),
    updated_at = now()
where id = $1::uuid
  and deleted_at is null;
`

const QListStaleGenerationJobs = `--sql 39ae2ef6-0f18-445a-ae9d-3b06d39c7ab4
select id::text, provider_task_id, kind, name, coalesce(source_prompt, ''), coalesce(source_image_url, ''),
       status, progress, coalesce(result_model_url, ''), coalesce(result_image_url, ''),
       owner_id, is_public, created_at, updated_at
from generation_jobs
where status in ('queued', 'running', 'unknown')
  and updated_at < $1::timestamptz
  and deleted_at is null
order by updated_at asc
limit $2::int;
`
